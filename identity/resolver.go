package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/wfunc/photoguess/logger"
)

const defaultDisplayName = "Guest"

// Resolver hands out the current player's identity. It prefers the provider
// and falls back to a locally generated identity, persisted in the LocalStore,
// once the provider reports that anonymous sign-in is restricted. The
// restriction is persisted, so after a restart the provider is not asked again.
type Resolver struct {
	provider Provider
	local    LocalStore

	mu         sync.Mutex
	current    *User
	restricted bool
}

func NewResolver(provider Provider, local LocalStore) *Resolver {
	if local == nil {
		local = NewMemoryLocalStore()
	}
	r := &Resolver{provider: provider, local: local}
	disabled, err := local.AnonymousDisabled()
	if err != nil {
		logger.Log.Warnf("identity: read anonymous flag: %v", err)
	}
	r.restricted = disabled
	return r
}

// Current returns the identity resolved so far, if any.
func (r *Resolver) Current() (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return User{}, false
	}
	return *r.current, true
}

// EnsureUser returns the current identity, signing in when there is none yet.
func (r *Resolver) EnsureUser(ctx context.Context) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return *r.current, nil
	}
	if r.restricted {
		return r.fallbackLocked()
	}

	u, err := r.provider.SignInAnonymously(ctx)
	if err == nil {
		// A provider identity replaces any stale fallback.
		if err := r.local.SaveUser(nil); err != nil {
			logger.Log.Warnf("identity: clear local user: %v", err)
		}
		if err := r.local.SetAnonymousDisabled(false); err != nil {
			logger.Log.Warnf("identity: clear anonymous flag: %v", err)
		}
		r.current = &u
		return u, nil
	}
	if !errors.Is(err, ErrRestrictedOperation) {
		return User{}, err
	}

	logger.Log.Warn("identity: anonymous sign-in disabled, falling back to local identity")
	r.restricted = true
	if err := r.local.SetAnonymousDisabled(true); err != nil {
		logger.Log.Warnf("identity: persist anonymous flag: %v", err)
	}
	return r.fallbackLocked()
}

func (r *Resolver) fallbackLocked() (User, error) {
	stored, err := r.local.LoadUser()
	if err != nil {
		logger.Log.Warnf("identity: read local user: %v", err)
	}
	u := newLocalUser(stored)
	if err := r.local.SaveUser(&u); err != nil {
		logger.Log.Warnf("identity: persist local user: %v", err)
	}
	r.current = &u
	return u, nil
}

// ApplyProfile sets the display name and photo. Empty values keep the current ones.
func (r *Resolver) ApplyProfile(ctx context.Context, displayName, photoURL string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return User{}, errors.New("identity: no user signed in")
	}
	if !r.current.IsLocal {
		u, err := r.provider.UpdateProfile(ctx, *r.current, displayName, photoURL)
		if err != nil {
			return User{}, err
		}
		r.current = &u
		return u, nil
	}

	next := *r.current
	if displayName != "" {
		next.DisplayName = displayName
	}
	if photoURL != "" {
		next.PhotoURL = photoURL
	}
	next = newLocalUser(&next)
	if err := r.local.SaveUser(&next); err != nil {
		logger.Log.Warnf("identity: persist local user: %v", err)
	}
	r.current = &next
	return next, nil
}

func newLocalUser(prev *User) User {
	u := User{IsLocal: true, DisplayName: defaultDisplayName}
	if prev != nil {
		u.UID = prev.UID
		u.PhotoURL = prev.PhotoURL
		if prev.DisplayName != "" {
			u.DisplayName = prev.DisplayName
		}
	}
	if u.UID == "" {
		u.UID = uuid.NewString()
	}
	return u
}
