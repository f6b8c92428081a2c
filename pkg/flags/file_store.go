package flags

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// FileStore implements Store using a TOML file of boolean keys:
//
//	wake_enabled = true
//	idle_detection_enabled = false
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore backed by path. The file is created on
// the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Bool implements Store.
func (s *FileStore) Bool(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return false, err
	}
	v, ok := values[key]
	if !ok {
		return false, ErrNotFound
	}
	return v, nil
}

// SetBool implements Store. The file is rewritten atomically.
func (s *FileStore) SetBool(ctx context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Path returns the path of the flag file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (map[string]bool, error) {
	values := make(map[string]bool)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("flags: read %s: %w", s.path, err)
	}
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("flags: parse %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStore) save(values map[string]bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	data, err := toml.Marshal(values)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
