// Package delta defines the canonical delta: the single internal shape every
// raw extraction format is normalised into before proposals are built.
//
// All fields are optional. The JSON wire shape matches the direct-report format
// produced by the extraction oracle, so a [Delta] can be encoded back into the
// same form it was decoded from.
package delta

// EventStatus is the player-facing status of a canon arc event.
type EventStatus string

const (
	StatusPending      EventStatus = "pending"
	StatusFiredCanon   EventStatus = "fired-canon"
	StatusFiredAltered EventStatus = "fired-altered"
	StatusSkipped      EventStatus = "skipped"
)

// Valid reports whether s is one of the four known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFiredCanon, StatusFiredAltered, StatusSkipped:
		return true
	}
	return false
}

// CurrentState is a partial update to a character's current_state.
type CurrentState struct {
	EmotionalState string `json:"emotional_state,omitempty"`
	PhysicalState  string `json:"physical_state,omitempty"`
}

// Fields returns the non-empty fields as ordered key/value pairs.
func (c CurrentState) Fields() [][2]string {
	var out [][2]string
	if c.EmotionalState != "" {
		out = append(out, [2]string{"emotional_state", c.EmotionalState})
	}
	if c.PhysicalState != "" {
		out = append(out, [2]string{"physical_state", c.PhysicalState})
	}
	return out
}

// AliasUpdate changes a character's primary alias and/or full alias list.
type AliasUpdate struct {
	Alias   string   `json:"alias,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// NewCharacter introduces a character not yet tracked.
type NewCharacter struct {
	DisplayName   string   `json:"display_name"`
	Alias         string   `json:"alias,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
	Faction       string   `json:"faction,omitempty"`
	FirstAppeared string   `json:"first_appeared,omitempty"`
}

// Delta is the canonical set of changes extracted from one narrative event.
// Character maps are keyed by character key (npc_<slug>) once resolved;
// directly reported deltas may still carry free-text names there.
type Delta struct {
	// NPCKnowledge maps character key to dot-delimited field path to new value.
	NPCKnowledge map[string]map[string]any `json:"npc_knowledge,omitempty"`

	// NPCRelationship maps character key to new relationship text.
	NPCRelationship map[string]string `json:"npc_relationship,omitempty"`

	// NPCCurrentState maps character key to a partial current_state.
	NPCCurrentState map[string]CurrentState `json:"npc_current_state,omitempty"`

	// NPCAppearance maps character key to described appearance fields.
	NPCAppearance map[string]map[string]string `json:"npc_appearance,omitempty"`

	// NPCAliases maps character key to an alias update.
	NPCAliases map[string]AliasUpdate `json:"npc_aliases,omitempty"`

	// ArcEvents maps event id to its new status.
	ArcEvents map[string]EventStatus `json:"arc_events,omitempty"`

	// WorldState maps top-level world state field to its new value.
	WorldState map[string]any `json:"world_state,omitempty"`

	// DivergenceDelta is the non-negative divergence increment.
	DivergenceDelta int `json:"divergence_delta,omitempty"`

	// InWorldDate is the new in-world date, if time advanced.
	InWorldDate string `json:"in_world_date,omitempty"`

	// NewNPCs lists newly introduced characters.
	NewNPCs []NewCharacter `json:"new_npcs,omitempty"`
}

// IsEmpty reports whether d carries no change at all. A nil delta is empty.
// A field counts as empty when it is absent, zero, "" or an empty map or list.
func (d *Delta) IsEmpty() bool {
	if d == nil {
		return true
	}
	return len(d.NPCKnowledge) == 0 &&
		len(d.NPCRelationship) == 0 &&
		len(d.NPCCurrentState) == 0 &&
		len(d.NPCAppearance) == 0 &&
		len(d.NPCAliases) == 0 &&
		len(d.ArcEvents) == 0 &&
		len(d.WorldState) == 0 &&
		d.DivergenceDelta == 0 &&
		d.InWorldDate == "" &&
		len(d.NewNPCs) == 0
}

// SetKnowledge records a knowledge path update for key.
func (d *Delta) SetKnowledge(key, path string, value any) {
	if d.NPCKnowledge == nil {
		d.NPCKnowledge = make(map[string]map[string]any)
	}
	if d.NPCKnowledge[key] == nil {
		d.NPCKnowledge[key] = make(map[string]any)
	}
	d.NPCKnowledge[key][path] = value
}

// HasKnowledge reports whether a knowledge update for key at path exists.
func (d *Delta) HasKnowledge(key, path string) bool {
	_, ok := d.NPCKnowledge[key][path]
	return ok
}

// SetRelationship records a relationship update for key.
func (d *Delta) SetRelationship(key, text string) {
	if d.NPCRelationship == nil {
		d.NPCRelationship = make(map[string]string)
	}
	d.NPCRelationship[key] = text
}

// MergeCurrentState merges non-empty fields of cs into the pending
// current_state update for key.
func (d *Delta) MergeCurrentState(key string, cs CurrentState) {
	if cs == (CurrentState{}) {
		return
	}
	if d.NPCCurrentState == nil {
		d.NPCCurrentState = make(map[string]CurrentState)
	}
	cur := d.NPCCurrentState[key]
	if cs.EmotionalState != "" {
		cur.EmotionalState = cs.EmotionalState
	}
	if cs.PhysicalState != "" {
		cur.PhysicalState = cs.PhysicalState
	}
	d.NPCCurrentState[key] = cur
}

// SetArcEvent records a status change for event id.
func (d *Delta) SetArcEvent(id string, status EventStatus) {
	if d.ArcEvents == nil {
		d.ArcEvents = make(map[string]EventStatus)
	}
	d.ArcEvents[id] = status
}
