// Package identity provides stable player identifiers and display profiles.
package identity

import (
	"context"
	"errors"
)

// RestrictedOperationCode is the error code a provider reports when
// anonymous sign-in has been disabled by the operator.
const RestrictedOperationCode = "auth/admin-restricted-operation"

var (
	ErrRestrictedOperation = errors.New("identity: " + RestrictedOperationCode)
	ErrInvalidToken        = errors.New("identity: invalid token")
)

// User is the signed-in identity of a player.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	// Token authenticates provider-issued identities. Empty for local ones.
	Token   string `json:"token,omitempty"`
	IsLocal bool   `json:"isLocal"`
}

// Provider issues identities without requiring a login.
type Provider interface {
	SignInAnonymously(ctx context.Context) (User, error)
	UpdateProfile(ctx context.Context, user User, displayName, photoURL string) (User, error)
}
