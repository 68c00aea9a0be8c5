package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/worldtracker/pkg/docstore"
	"github.com/MrWong99/worldtracker/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps names to constructors for oracle backends and document
// stores. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	oracle map[string]func(ProviderEntry) (llm.Provider, error)
	store  map[string]func(StoreConfig) (docstore.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		oracle: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		store:  make(map[string]func(StoreConfig) (docstore.Store, error)),
	}
}

// RegisterOracle registers an oracle backend factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterOracle(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oracle[name] = factory
}

// RegisterStore registers a document store factory under name.
func (r *Registry) RegisterStore(name string, factory func(StoreConfig) (docstore.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[name] = factory
}

// CreateOracle instantiates the backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateOracle(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.oracle[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: oracle/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStore instantiates the store registered under cfg.Name.
func (r *Registry) CreateStore(cfg StoreConfig) (docstore.Store, error) {
	r.mu.RLock()
	factory, ok := r.store[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
