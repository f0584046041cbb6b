package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider signs in against the game server's identity endpoints.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// ErrorBody is the JSON error shape returned by the identity endpoints.
type ErrorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// ProfileRequest is the body of a profile update.
type ProfileRequest struct {
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

func (p *HTTPProvider) SignInAnonymously(ctx context.Context) (User, error) {
	return p.do(ctx, http.MethodPost, "/api/identity", "", nil)
}

func (p *HTTPProvider) UpdateProfile(ctx context.Context, user User, displayName, photoURL string) (User, error) {
	return p.do(ctx, http.MethodPatch, "/api/identity/profile", user.Token, ProfileRequest{
		DisplayName: displayName,
		PhotoURL:    photoURL,
	})
}

func (p *HTTPProvider) do(ctx context.Context, method, path, token string, body interface{}) (User, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return User{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Code == RestrictedOperationCode {
			return User{}, ErrRestrictedOperation
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return User{}, ErrInvalidToken
		}
		return User{}, fmt.Errorf("identity: %s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("identity: decode response: %w", err)
	}
	return u, nil
}
