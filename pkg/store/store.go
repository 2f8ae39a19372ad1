// Package store is the blob storage collaborator used for audio samples
// and generated media.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store uploads and downloads opaque blobs by key.
type Store interface {
	// Upload persists data under key and returns a public URL for it.
	Upload(ctx context.Context, key string, data []byte) (string, error)
	// Download returns the blob stored under key.
	Download(ctx context.Context, key string) ([]byte, error)
}

// FS is a local-filesystem Store serving blobs under a public base URL.
type FS struct {
	root string
	base string
}

// NewFS creates a filesystem store rooted at dir. Blobs are addressable
// as base + "/blobs/" + key.
func NewFS(dir, base string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{root: dir, base: strings.TrimRight(base, "/")}, nil
}

// Root returns the directory blobs are written to.
func (f *FS) Root() string { return f.root }

// Upload persists data under key and returns its public URL.
func (f *FS) Upload(_ context.Context, key string, data []byte) (string, error) {
	path, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return f.base + "/blobs/" + key, nil
}

// Download returns the blob stored under key.
func (f *FS) Download(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// path rejects keys that would escape the blob root.
func (f *FS) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}
