// Package memory provides a generic thread-safe in-memory key-value store
// used by repository adapters.
package memory

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by Insert when the key is already taken.
	ErrExists = errors.New("already exists")
)

// Store is a generic thread-safe in-memory key-value store with optional
// FIFO eviction once capacity is reached.
type Store[V any] struct {
	mu       sync.RWMutex
	data     map[string]V
	order    []string
	capacity int
	keyFunc  func(V) string
}

// New creates a Store with a key extractor function. capacity <= 0 means
// unbounded.
func New[V any](keyFunc func(V) string, capacity int) *Store[V] {
	return &Store[V]{
		data:     make(map[string]V),
		capacity: capacity,
		keyFunc:  keyFunc,
	}
}

// Insert adds v, failing with ErrExists if its key is already present.
func (s *Store[V]) Insert(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keyFunc(v)
	if _, ok := s.data[key]; ok {
		return ErrExists
	}
	if s.capacity > 0 && len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.data, oldest)
	}
	s.data[key] = v
	s.order = append(s.order, key)
	return nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Update replaces the value for key with the result of fn, holding the write
// lock for the whole read-modify-write. An error from fn leaves the stored
// value untouched.
func (s *Store[V]) Update(_ context.Context, key string, fn func(V) (V, error)) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	next, err := fn(cur)
	if err != nil {
		var zero V
		return zero, err
	}
	s.data[key] = next
	return next, nil
}

// Filter returns all values for which pred returns true, in insertion order.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, key := range s.order {
		if v := s.data[key]; pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Len reports the number of stored values.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
