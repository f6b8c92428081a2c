package flags

import (
	"context"
	"sync"
)

// MemoryStore keeps flags in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]bool)}
}

// Bool implements Store.
func (s *MemoryStore) Bool(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return false, ErrNotFound
	}
	return v, nil
}

// SetBool implements Store.
func (s *MemoryStore) SetBool(ctx context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
