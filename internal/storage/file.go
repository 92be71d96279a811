package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mozilla-ai/mcphost/internal/files"
	"github.com/mozilla-ai/mcphost/internal/perms"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileStore keeps one file per key inside a private directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it with secure permissions when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}
	if err := files.EnsureAtLeastSecureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a key to a file name. Keys that are not already safe file names are hashed.
func (f *FileStore) path(key string) string {
	name := key
	if unsafeKeyChars.MatchString(key) || key == "" || key[0] == '.' {
		name = fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	}
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", key, err)
	}
	return data, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	return files.WriteFileAtomic(f.path(key), value, perms.SecureFile)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete '%s': %w", key, err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
