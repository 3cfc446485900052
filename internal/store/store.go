package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Store is the small persistence surface the controller depends on:
// named JSON values. Writes are best-effort snapshots; on restart the
// controller re-derives truth from the browser, so a lost write is
// corrected by the next reconciliation.
type Store interface {
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	Remove(key string) error
}

var keyRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// FileStore persists each key as <dir>/<key>.json.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore and ensures the directory exists.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) validateKey(key string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("store: invalid key: %q", key)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the value for key into out. Returns false when the key has
// never been written.
func (s *FileStore) Get(key string, out any) (bool, error) {
	if err := s.validateKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set writes the value for key atomically (write to temp, rename).
func (s *FileStore) Set(key string, value any) error {
	if err := s.validateKey(key); err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", key, err)
	}
	return nil
}

// Remove deletes the value for key. Missing keys are not an error.
func (s *FileStore) Remove(key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", key, err)
	}
	return nil
}
