package persist

import (
	"context"
	"maps"
	"sync"
	"time"
)

// DefaultFreshness is how long a mirrored document set is preferred over a
// remote fetch.
const DefaultFreshness = 24 * time.Hour

// Entry is one mirrored document set.
type Entry struct {
	// StoreID is the remote set the documents belong to. It may be empty for
	// a context that was never linked.
	StoreID string

	// Files holds the encoded documents keyed by filename.
	Files map[string][]byte

	// SavedAt is when the entry was written.
	SavedAt time.Time
}

// Fresh reports whether e is younger than maxAge at now.
func (e Entry) Fresh(maxAge time.Duration, now time.Time) bool {
	return !e.SavedAt.IsZero() && now.Sub(e.SavedAt) <= maxAge
}

// Mirror is a synchronous local copy of the document set of each context.
// Implementations must be safe for concurrent use.
type Mirror interface {
	// Save replaces the entry of contextID.
	Save(ctx context.Context, contextID string, e Entry) error

	// Load returns the entry of contextID. ok is false when none exists.
	Load(ctx context.Context, contextID string) (e Entry, ok bool, err error)
}

// Bindings records which remote set each context is linked to.
type Bindings interface {
	// Bind links contextID to storeID and marks storeID as the last used set.
	Bind(ctx context.Context, contextID, storeID string) error

	// Lookup returns the set linked to contextID. When the context has no
	// binding it returns the last used set with bound == false, or "" when
	// nothing was ever bound.
	Lookup(ctx context.Context, contextID string) (storeID string, bound bool, err error)
}

// LoadFresh returns the entry of contextID if it exists and is fresh.
func LoadFresh(ctx context.Context, m Mirror, contextID string, maxAge time.Duration, now time.Time) (Entry, bool, error) {
	e, ok, err := m.Load(ctx, contextID)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if !e.Fresh(maxAge, now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// MemoryMirror keeps mirrors and bindings in process memory.
type MemoryMirror struct {
	mu       sync.Mutex
	entries  map[string]Entry
	bindings map[string]string
	lastUsed string
}

var (
	_ Mirror   = (*MemoryMirror)(nil)
	_ Bindings = (*MemoryMirror)(nil)
)

// NewMemoryMirror returns an empty MemoryMirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		entries:  make(map[string]Entry),
		bindings: make(map[string]string),
	}
}

// Save implements [Mirror].
func (m *MemoryMirror) Save(_ context.Context, contextID string, e Entry) error {
	e.Files = maps.Clone(e.Files)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[contextID] = e
	return nil
}

// Load implements [Mirror].
func (m *MemoryMirror) Load(_ context.Context, contextID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[contextID]
	e.Files = maps.Clone(e.Files)
	return e, ok, nil
}

// Bind implements [Bindings].
func (m *MemoryMirror) Bind(_ context.Context, contextID, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[contextID] = storeID
	m.lastUsed = storeID
	return nil
}

// Lookup implements [Bindings].
func (m *MemoryMirror) Lookup(_ context.Context, contextID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.bindings[contextID]; ok {
		return id, true, nil
	}
	return m.lastUsed, false, nil
}
