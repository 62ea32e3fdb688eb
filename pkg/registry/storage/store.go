// Package storage places, retrieves and removes package artifacts in an
// object store. Objects are addressed by a deterministic key derived from
// package identity, never by content, so the same (id, version) pair always
// maps to the same object.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Object describes one stored artifact as seen by List.
type Object struct {
	Key     string
	ModTime time.Time
}

// BlobStore is the narrow contract the registry needs from an object store.
// There is no cross-object transaction; every key is independent.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns every artifact currently in the store, for the
	// out-of-band orphan sweep. ModTime lets the sweep leave fresh
	// objects alone.
	List(ctx context.Context) ([]Object, error)
}

// ArtifactKey returns the deterministic object name for a package version.
// The raw version string is used, not the normalized one: the key must match
// whatever identity the client pushed and will delete with.
func ArtifactKey(id, version string) string {
	return id + "." + version + ".nupkg"
}

// FileStore is a filesystem-backed BlobStore for local deployments and tests.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("artifact write failed for %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, key))
	if err != nil {
		return nil, fmt.Errorf("artifact read failed for %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.baseDir, key)); err != nil {
		return fmt.Errorf("artifact delete failed for %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("artifact list failed: %w", err)
	}
	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("artifact list failed for %s: %w", e.Name(), err)
		}
		objects = append(objects, Object{Key: e.Name(), ModTime: info.ModTime()})
	}
	return objects, nil
}
