package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FSObjectStore is an ObjectStore over a local directory. Locations are
// "file://" URIs under the root. Suitable for single-node deployments; a
// bucket-backed implementation can replace it behind the interface.
type FSObjectStore struct {
	root   string
	logger *slog.Logger
}

var _ ObjectStore = (*FSObjectStore)(nil)

// NewFSObjectStore creates an object store rooted at dir, creating it if
// needed.
func NewFSObjectStore(dir string) (*FSObjectStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSObjectStore{
		root:   dir,
		logger: slog.Default().With("component", "fs-object-store"),
	}, nil
}

// Put stores data under key and returns its file:// location.
func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", NewPermanent("store", fmt.Errorf("%w: bad key %q", ErrMalformedInput, key))
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	// Write-then-rename so readers never see a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}

	s.logger.Debug("stored object", "key", key, "bytes", len(data))
	return "file://" + path, nil
}

// Get retrieves the data at a file:// location.
func (s *FSObjectStore) Get(ctx context.Context, location string) ([]byte, error) {
	path := strings.TrimPrefix(location, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewPermanent("fetch", fmt.Errorf("%w: %s", ErrMalformedInput, location))
		}
		return nil, err
	}
	return data, nil
}
