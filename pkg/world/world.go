// Package world defines the versioned world model tracked by worldtracker.
//
// A world model is a set of JSON documents stored side by side in an external
// document store:
//
//   - _master_index.json: setting metadata, divergence mirror, active NPC list
//   - world_state.json:   date, arc, factions, active situations, divergence
//   - arc_events.json:    canon event ledger keyed by arc
//   - npc_<slug>.json:    one record per character
//
// Documents are held as generic JSON objects ([Document]) so that fields written
// by other tools survive a load/save round trip unchanged. The typed structs in
// this package ([Index], [WorldState], [Character], ...) describe the known shape
// and are used for scaffolding and rendering.
//
// A [Model] is not safe for concurrent use. Ownership is held by the merge
// engine, which serialises all mutation.
package world

import (
	"encoding/json"
	"maps"
	"slices"
)

// Well-known document filenames.
const (
	IndexFile      = "_master_index.json"
	WorldStateFile = "world_state.json"
	ArcEventsFile  = "arc_events.json"
)

// Document is a decoded JSON object.
type Document = map[string]any

// Model is the in-memory form of a complete document set.
type Model struct {
	// Index is the master index document. Nil when the store has none.
	Index Document

	// WorldState is the world state document. Nil when the store has none.
	WorldState Document

	// ArcEvents is the canon event ledger. Nil when the store has none.
	ArcEvents Document

	// Characters maps character keys (npc_<slug>, no extension) to records.
	Characters map[string]Document

	// Extra holds any other files verbatim, keyed by filename.
	Extra map[string][]byte
}

// New returns an empty model with initialised maps.
func New() *Model {
	return &Model{
		Characters: make(map[string]Document),
		Extra:      make(map[string][]byte),
	}
}

// Loaded reports whether the model carries a world state document. Extraction
// is only meaningful once a world state exists.
func (m *Model) Loaded() bool {
	return m != nil && m.WorldState != nil
}

// Character returns the record stored under key, or nil.
func (m *Model) Character(key string) Document {
	if m == nil {
		return nil
	}
	return m.Characters[key]
}

// CharacterKeys returns all character keys in sorted order.
func (m *Model) CharacterKeys() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.Characters))
}

// Clone returns a deep copy of m. Mutating the copy never affects m.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := &Model{
		Index:      CloneDocument(m.Index),
		WorldState: CloneDocument(m.WorldState),
		ArcEvents:  CloneDocument(m.ArcEvents),
		Characters: make(map[string]Document, len(m.Characters)),
		Extra:      make(map[string][]byte, len(m.Extra)),
	}
	for k, v := range m.Characters {
		out.Characters[k] = CloneDocument(v)
	}
	for k, v := range m.Extra {
		out.Extra[k] = slices.Clone(v)
	}
	return out
}

// EnsureWorldState returns the world state document, creating an empty one
// when absent.
func (m *Model) EnsureWorldState() Document {
	if m.WorldState == nil {
		m.WorldState = Document{}
	}
	return m.WorldState
}

// EnsureIndex returns the master index document, creating an empty one when
// absent.
func (m *Model) EnsureIndex() Document {
	if m.Index == nil {
		m.Index = Document{}
	}
	return m.Index
}

// CurrentArcKey returns the arc ledger key for the current world state arc,
// e.g. "arc_3". It defaults to "arc_1" when no arc is recorded.
func (m *Model) CurrentArcKey() string {
	arc := "1"
	if m != nil && m.WorldState != nil {
		if s := Scalar(m.WorldState["arc"]); s != "" {
			arc = s
		}
	}
	return "arc_" + arc
}

// CloneDocument deep-copies a JSON object.
func CloneDocument(d Document) Document {
	if d == nil {
		return nil
	}
	v, _ := CloneValue(d).(Document)
	return v
}

// CloneValue deep-copies a decoded JSON value. Maps and slices are copied
// recursively; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case json.RawMessage:
		return slices.Clone(t)
	default:
		return v
	}
}
