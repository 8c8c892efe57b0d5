package store

import (
	"context"
	"sync"

	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
)

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	data map[string]string
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return "", core.ErrNotFound
	}
	return value, nil
}

// Set stores value under key, replacing any previous value
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

// Remove deletes key; removing a missing key is not an error
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}
