package identity

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// LocalStore persists the fallback identity across restarts.
type LocalStore interface {
	LoadUser() (*User, error)
	SaveUser(u *User) error
	AnonymousDisabled() (bool, error)
	SetAnonymousDisabled(disabled bool) error
	Close() error
}

var (
	identityBucket       = []byte("identity")
	localUserKey         = []byte("local-user")
	anonymousDisabledKey = []byte("anonymous-disabled")
)

// BoltLocalStore keeps the fallback identity in a bbolt file.
type BoltLocalStore struct {
	db *bolt.DB
}

func OpenBoltLocalStore(path string) (*BoltLocalStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("identity: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(identityBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: init %s: %w", path, err)
	}
	return &BoltLocalStore{db: db}, nil
}

func (s *BoltLocalStore) LoadUser() (*User, error) {
	var u *User
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(identityBucket).Get(localUserKey)
		if raw == nil {
			return nil
		}
		var stored User
		if err := json.Unmarshal(raw, &stored); err != nil {
			return err
		}
		if stored.UID == "" {
			return nil
		}
		u = &stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("identity: load local user: %w", err)
	}
	return u, nil
}

// SaveUser stores u, or removes the stored identity when u is nil.
func (s *BoltLocalStore) SaveUser(u *User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucket)
		if u == nil {
			return b.Delete(localUserKey)
		}
		raw, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put(localUserKey, raw)
	})
}

func (s *BoltLocalStore) AnonymousDisabled() (bool, error) {
	var disabled bool
	err := s.db.View(func(tx *bolt.Tx) error {
		disabled = string(tx.Bucket(identityBucket).Get(anonymousDisabledKey)) == "true"
		return nil
	})
	return disabled, err
}

func (s *BoltLocalStore) SetAnonymousDisabled(disabled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identityBucket)
		if !disabled {
			return b.Delete(anonymousDisabledKey)
		}
		return b.Put(anonymousDisabledKey, []byte("true"))
	})
}

func (s *BoltLocalStore) Close() error {
	return s.db.Close()
}

// MemoryLocalStore is a LocalStore that forgets everything on exit.
type MemoryLocalStore struct {
	mu       sync.Mutex
	user     *User
	disabled bool
}

func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{}
}

func (s *MemoryLocalStore) LoadUser() (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, nil
	}
	u := *s.user
	return &u, nil
}

func (s *MemoryLocalStore) SaveUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return nil
	}
	c := *u
	s.user = &c
	return nil
}

func (s *MemoryLocalStore) AnonymousDisabled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled, nil
}

func (s *MemoryLocalStore) SetAnonymousDisabled(disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = disabled
	return nil
}

func (s *MemoryLocalStore) Close() error { return nil }
