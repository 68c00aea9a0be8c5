package merge

import (
	"sync"

	"github.com/MrWong99/worldtracker/pkg/world"
)

// Mutation is a change that can be applied to a world model. Proposals
// implement it.
type Mutation interface {
	Apply(m *world.Model)
}

// MutationFunc adapts a function to [Mutation].
type MutationFunc func(m *world.Model)

// Apply calls f.
func (f MutationFunc) Apply(m *world.Model) { f(m) }

// Engine owns the live world model. It is the only component that mutates
// it; everything else works on snapshots. All methods are safe for concurrent
// use.
type Engine struct {
	mu    sync.RWMutex
	model *world.Model
}

// NewEngine returns an Engine holding an empty model.
func NewEngine() *Engine {
	return &Engine{model: world.New()}
}

// Apply runs mut against the live model.
func (e *Engine) Apply(mut Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mut.Apply(e.model)
}

// ApplyAll runs every mutation in order under a single lock.
func (e *Engine) ApplyAll(muts []Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, mut := range muts {
		mut.Apply(e.model)
	}
}

// Snapshot returns a deep copy of the live model.
func (e *Engine) Snapshot() *world.Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model.Clone()
}

// Replace swaps in a new model, e.g. after loading from a store. A nil model
// resets to empty.
func (e *Engine) Replace(m *world.Model) {
	if m == nil {
		m = world.New()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = m
}

// ReplaceDocument stores doc under filename in the live model, replacing the
// previous document of that name.
func (e *Engine) ReplaceDocument(filename string, doc world.Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	PutFile(e.model, filename, doc)
}

// Files encodes the live model for persistence.
func (e *Engine) Files() (map[string][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model.Files()
}

// View runs fn with read access to the live model. fn must not retain or
// mutate it.
func (e *Engine) View(fn func(m *world.Model)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.model)
}
