// Package memory provides a process-local [docstore.Store]. Document sets
// live only as long as the process; the local mirror is what survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/worldtracker/pkg/docstore"
)

// Compile-time assertion that Store satisfies the docstore.Store interface.
var _ docstore.Store = (*Store)(nil)

// Store is a thread-safe, in-memory document store. The zero value is ready
// to use.
type Store struct {
	mu   sync.RWMutex
	sets map[string]map[string][]byte
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{sets: make(map[string]map[string][]byte)}
}

// FetchAll implements [docstore.Store].
func (s *Store) FetchAll(_ context.Context, id string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return nil, fmt.Errorf("docstore/memory: %q: %w", id, docstore.ErrNotFound)
	}
	return maps.Clone(set), nil
}

// Patch implements [docstore.Store].
func (s *Store) Patch(_ context.Context, id string, files map[string]docstore.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[id]
	if !ok {
		return fmt.Errorf("docstore/memory: %q: %w", id, docstore.ErrNotFound)
	}
	for name, f := range files {
		set[name] = []byte(f.Content)
	}
	return nil
}

// Create implements [docstore.Store]. The description is not kept.
func (s *Store) Create(_ context.Context, _ string, files map[string]docstore.File) (string, error) {
	id := uuid.NewString()
	set := make(map[string][]byte, len(files))
	for name, f := range files {
		set[name] = []byte(f.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets == nil {
		s.sets = make(map[string]map[string][]byte)
	}
	s.sets[id] = set
	return id, nil
}
