package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps objects on the local filesystem under Dir and serves them
// below BaseURL.
type FileStore struct {
	dir     string
	baseURL string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory objects are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, progress Progress) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("blob: upload %s: %w", p, err)
	}

	// Write to a temp file first so a failed upload never leaves a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return fmt.Errorf("blob: upload %s: %w", p, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, withProgress(readerWithContext(ctx, r), size, progress))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("blob: upload %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("blob: upload %s: %w", p, err)
	}
	return nil
}

func (s *FileStore) URL(_ context.Context, objectPath string) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(p))); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.baseURL + "/" + p, nil
}

func (s *FileStore) Delete(_ context.Context, objectPath string) error {
	p, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(p))); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: delete %s: %w", p, err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
