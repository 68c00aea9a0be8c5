// Package proposal expands a canonical delta into atomic, independently
// reviewable proposals.
//
// Every proposal describes exactly one leaf change, carries a snapshot of the
// value it replaces and holds a closure that performs the change when the
// proposal is accepted. The closure captures plain values only; it never
// reads the world model until it is applied, so a denied proposal has no
// effect at all.
package proposal

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// Category identifies the kind of change a proposal makes.
type Category string

const (
	CategoryKnowledge    Category = "npc_knowledge"
	CategoryRelationship Category = "npc_relationship"
	CategoryState        Category = "npc_state"
	CategoryAppearance   Category = "npc_appearance"
	CategoryAliases      Category = "npc_aliases"
	CategoryArcEvent     Category = "arc_event"
	CategoryWorldState   Category = "world_state"
	CategoryDivergence   Category = "divergence"
	CategoryDate         Category = "date_advance"
	CategoryNewNPC       Category = "new_npc"
	CategoryImport       Category = "import"
)

// Proposal is one pending change.
type Proposal struct {
	// ID uniquely identifies the proposal within the review queue.
	ID string

	// ContextID is the conversation context the proposal was produced for.
	ContextID string

	// Category is the kind of change.
	Category Category

	// Target is the character key or filename the change applies to. Empty
	// for changes to the world state or ledger.
	Target string

	// Description is the human-readable one-line summary.
	Description string

	// OldValue is a snapshot of the value being replaced, if any.
	OldValue any

	// NewValue is the value the change writes.
	NewValue any

	// Preview is optional multi-line detail shown when the proposal is
	// expanded. Only set when Expandable is true.
	Preview string

	// Expandable reports whether Preview carries anything to show.
	Expandable bool

	// Expanded is display state toggled by the review queue.
	Expanded bool

	mutate func(m *world.Model)
}

var _ merge.Mutation = (*Proposal)(nil)

// Apply performs the change against m. It is a no-op for proposals built
// without a change function.
func (p *Proposal) Apply(m *world.Model) {
	if p == nil || p.mutate == nil {
		return
	}
	p.mutate(m)
}

// jsonSnippet encodes v compactly without HTML escaping and cuts the result
// to limit runes.
func jsonSnippet(v any, limit int) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "?"
	}
	return truncate(strings.TrimSuffix(buf.String(), "\n"), limit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
