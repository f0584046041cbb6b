// Package blob stores uploaded images and resolves them to URLs.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound    = errors.New("blob: object not found")
	ErrInvalidPath = errors.New("blob: invalid path")
)

// Progress reports bytes written so far out of total. total is -1 when unknown.
type Progress func(written, total int64)

// Store is the object storage used for photos. Upload resolves exactly once;
// progress callbacks may fire any number of times before it returns.
type Store interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, progress Progress) error
	URL(ctx context.Context, objectPath string) (string, error)
	Delete(ctx context.Context, objectPath string) error
}

// cleanPath normalises p and rejects anything escaping the store root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	c := path.Clean("/" + p)[1:]
	if c == "" || c != strings.TrimPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	return c, nil
}

type progressReader struct {
	r        io.Reader
	total    int64
	written  int64
	progress Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		if p.progress != nil {
			p.progress(p.written, p.total)
		}
	}
	return n, err
}

func withProgress(r io.Reader, size int64, progress Progress) *progressReader {
	if size <= 0 {
		size = -1
	}
	return &progressReader{r: r, total: size, progress: progress}
}
