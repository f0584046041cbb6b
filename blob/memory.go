package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStore keeps objects in memory. Failures can be injected for tests.
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte

	// FailUpload and FailDelete, when set, are returned by the next calls.
	FailUpload error
	FailDelete error
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, progress Progress) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	fail := s.FailUpload
	s.mu.Unlock()
	if fail != nil {
		return fmt.Errorf("blob: upload %s: %w", p, fail)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, withProgress(readerWithContext(ctx, r), size, progress)); err != nil {
		return fmt.Errorf("blob: upload %s: %w", p, err)
	}
	s.mu.Lock()
	s.objects[p] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) URL(_ context.Context, objectPath string) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[p]; !ok {
		return "", ErrNotFound
	}
	return s.baseURL + "/" + p, nil
}

func (s *MemoryStore) Delete(_ context.Context, objectPath string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return fmt.Errorf("blob: delete %s: %w", p, s.FailDelete)
	}
	if _, ok := s.objects[p]; !ok {
		return ErrNotFound
	}
	delete(s.objects, p)
	return nil
}

// Has reports whether an object exists at objectPath.
func (s *MemoryStore) Has(objectPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectPath]
	return ok
}

// Len is the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
