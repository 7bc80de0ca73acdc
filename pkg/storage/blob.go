package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrInvalidPath is returned for blob paths that escape the store root
var ErrInvalidPath = errors.New("invalid blob path")

// BlobInfo describes one stored object
type BlobInfo struct {
	Path    string // Slash-separated, relative to the store root
	Size    int64
	ModTime time.Time
}

// BlobStore is a filesystem-like store rooted at the public asset tree.
// All paths are slash-separated and relative to the root.
type BlobStore interface {
	// Exists reports whether an object is stored at p
	Exists(ctx context.Context, p string) (bool, error)

	// MkdirAll ensures dir exists (no-op for flat object stores)
	MkdirAll(ctx context.Context, dir string) error

	// WriteFile stores data at p, replacing any previous content
	WriteFile(ctx context.Context, p string, data []byte, contentType string) error

	// Remove deletes p; removing a missing object is not an error
	Remove(ctx context.Context, p string) error

	// Walk calls fn for every object under prefix
	Walk(ctx context.Context, prefix string, fn func(BlobInfo) error) error
}

// CleanPath normalizes p and rejects absolute or parent-escaping paths
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		p = strings.TrimLeft(p, "/")
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
