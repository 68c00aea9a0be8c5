// Package mock provides an in-memory test double for [docstore.Store].
//
//	store := mock.New()
//	store.PatchErrs = []error{errBoom} // first Patch fails, later ones succeed
package mock

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/MrWong99/worldtracker/pkg/docstore"
)

// Call records a single method invocation.
type Call struct {
	// Method is "FetchAll", "Patch" or "Create".
	Method string

	// ID is the set id (empty for Create).
	ID string

	// Files holds the files passed to Patch or Create.
	Files map[string]docstore.File
}

// Store is an in-memory [docstore.Store]. All methods are safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	sets  map[string]map[string][]byte
	calls []Call
	next  int

	// FetchErr is returned by FetchAll when non-nil.
	FetchErr error

	// PatchErrs are returned by successive Patch calls, one per call. Once
	// exhausted Patch succeeds.
	PatchErrs []error

	// CreateErr is returned by Create when non-nil.
	CreateErr error

	// Block, when non-nil, makes every call wait until it is closed or ctx is
	// done.
	Block chan struct{}
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{sets: make(map[string]map[string][]byte)}
}

// Seed stores files under id, replacing any previous set.
func (s *Store) Seed(id string, files map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[id] = maps.Clone(files)
}

// Files returns a copy of set id.
func (s *Store) Files(id string) map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.sets[id])
}

// Calls returns every recorded call in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns the number of calls to method.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAll implements [docstore.Store].
func (s *Store) FetchAll(ctx context.Context, id string) (map[string][]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "FetchAll", ID: id})
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	set, ok := s.sets[id]
	if !ok {
		return nil, fmt.Errorf("mock: %q: %w", id, docstore.ErrNotFound)
	}
	return maps.Clone(set), nil
}

// Patch implements [docstore.Store].
func (s *Store) Patch(ctx context.Context, id string, files map[string]docstore.File) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Patch", ID: id, Files: maps.Clone(files)})
	if len(s.PatchErrs) > 0 {
		err := s.PatchErrs[0]
		s.PatchErrs = s.PatchErrs[1:]
		if err != nil {
			return err
		}
	}
	set, ok := s.sets[id]
	if !ok {
		return fmt.Errorf("mock: %q: %w", id, docstore.ErrNotFound)
	}
	for name, f := range files {
		set[name] = []byte(f.Content)
	}
	return nil
}

// Create implements [docstore.Store]. Ids are "set-1", "set-2", ...
func (s *Store) Create(ctx context.Context, _ string, files map[string]docstore.File) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Create", Files: maps.Clone(files)})
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	s.next++
	id := fmt.Sprintf("set-%d", s.next)
	set := make(map[string][]byte, len(files))
	for name, f := range files {
		set[name] = []byte(f.Content)
	}
	s.sets[id] = set
	return id, nil
}
