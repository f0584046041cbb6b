package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// playerClaims carries the profile alongside the registered claims.
type playerClaims struct {
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL,omitempty"`
	jwt.RegisteredClaims
}

// TokenProvider issues HS256-signed identities. It is the server side of
// anonymous sign-in.
type TokenProvider struct {
	secretKey        []byte
	ttl              time.Duration
	anonymousEnabled bool
	now              func() time.Time
}

func NewTokenProvider(secretKey string, ttl time.Duration, anonymousEnabled bool) *TokenProvider {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenProvider{
		secretKey:        []byte(secretKey),
		ttl:              ttl,
		anonymousEnabled: anonymousEnabled,
		now:              time.Now,
	}
}

func (p *TokenProvider) SignInAnonymously(_ context.Context) (User, error) {
	if !p.anonymousEnabled {
		return User{}, ErrRestrictedOperation
	}
	return p.issue(uuid.NewString(), "", "")
}

// UpdateProfile re-issues user's token with the new profile. Empty values keep
// the current ones.
func (p *TokenProvider) UpdateProfile(_ context.Context, user User, displayName, photoURL string) (User, error) {
	current, err := p.Verify(user.Token)
	if err != nil {
		return User{}, err
	}
	if displayName == "" {
		displayName = current.DisplayName
	}
	if photoURL == "" {
		photoURL = current.PhotoURL
	}
	return p.issue(current.UID, displayName, photoURL)
}

func (p *TokenProvider) issue(uid, name, photoURL string) (User, error) {
	now := p.now()
	claims := playerClaims{
		Name:     name,
		PhotoURL: photoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secretKey)
	if err != nil {
		return User{}, err
	}
	return User{UID: uid, DisplayName: name, PhotoURL: photoURL, Token: signed}, nil
}

// Verify checks the signature and expiry of tokenString and returns the identity it carries.
func (p *TokenProvider) Verify(tokenString string) (User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &playerClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secretKey, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return User{}, errors.Join(ErrInvalidToken, err)
		}
		return User{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*playerClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return User{}, ErrInvalidToken
	}
	return User{UID: claims.Subject, DisplayName: claims.Name, PhotoURL: claims.PhotoURL, Token: tokenString}, nil
}
