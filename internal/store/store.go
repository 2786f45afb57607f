// Package store provides the persistent key-value stores that remember participant
// addresses across restarts.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

var (
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store is closed")
	// ErrEmptyKey is returned when an empty key is provided
	ErrEmptyKey = errors.New("key cannot be empty")
)

// Store is a routing.PersistentStore that owns resources
type Store interface {
	routing.PersistentStore
	Close() error
}

// MemoryStore keeps values in a map. It survives router restarts within one process only.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Close drops all values. It is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]string)
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
