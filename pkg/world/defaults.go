package world

import (
	"encoding/json"
	"strings"
	"time"
)

// Default divergence settings applied when a world state has none.
const (
	DefaultDivergenceThreshold = 15
	DefaultStartDate           = "2010-09-03"
	DefaultSetting             = "Worm - Brockton Bay"
	SchemaVersion              = "1.0"
)

// Arc event statuses.
const (
	StatusPending      = "pending"
	StatusFiredCanon   = "fired-canon"
	StatusFiredAltered = "fired-altered"
	StatusSkipped      = "skipped"
)

// Index is the typed shape of the master index document.
type Index struct {
	SchemaVersion       string   `json:"schema_version"`
	Setting             string   `json:"setting"`
	ChatID              string   `json:"chat_id"`
	CurrentArc          string   `json:"current_arc"`
	CurrentChapter      string   `json:"current_chapter"`
	InWorldDate         string   `json:"in_world_date"`
	DivergenceRating    int      `json:"divergence_rating"`
	DivergenceThreshold int      `json:"divergence_threshold"`
	TimelineReliable    bool     `json:"timeline_reliable"`
	ActiveNPCs          []string `json:"active_npcs"`
	LastUpdated         string   `json:"last_updated"`
	Notes               string   `json:"notes"`
}

// Divergence tracks how far the story has drifted from canon.
type Divergence struct {
	Rating           int              `json:"rating"`
	Threshold        int              `json:"threshold"`
	TimelineReliable bool             `json:"timeline_reliable"`
	Logged           []DivergenceStep `json:"logged"`
}

// DivergenceStep is one logged divergence increment.
type DivergenceStep struct {
	Timestamp string `json:"timestamp"`
	Delta     int    `json:"delta"`
}

// WorldState is the typed shape of the world state document.
type WorldState struct {
	InWorldDate         string         `json:"in_world_date"`
	Arc                 string         `json:"arc"`
	Chapter             string         `json:"chapter"`
	TerritorialControl  map[string]any `json:"territorial_control"`
	PublicCapeKnowledge map[string]any `json:"public_cape_knowledge"`
	ActiveSituations    []any          `json:"active_situations"`
	Divergence          Divergence     `json:"divergence"`
}

// ArcEvent is one entry of the canon event ledger.
type ArcEvent struct {
	Summary      string `json:"summary"`
	PlayerStatus string `json:"player_status"`
}

// Power describes a character's abilities.
type Power struct {
	Summary            string   `json:"summary"`
	Mechanics          string   `json:"mechanics"`
	CurrentLimitations []string `json:"current_limitations"`
	CannotDo           string   `json:"cannot_do"`
}

// TriggerEvent describes how a character gained their abilities.
type TriggerEvent struct {
	Summary        string `json:"summary"`
	VisibilityGate string `json:"visibility_gate"`
	Notes          string `json:"notes"`
}

// Knowledge holds what a character knows and what is hidden from them.
type Knowledge struct {
	SpecificIntel   []any          `json:"specific_intel"`
	VisibilityGates map[string]any `json:"visibility_gates"`
}

// CurrentState is a character's present disposition.
type CurrentState struct {
	RelationshipToUserCharacter string `json:"relationship_to_user_character"`
	EmotionalState              string `json:"emotional_state"`
	PhysicalState               string `json:"physical_state"`
}

// Character is the typed shape of a character record.
type Character struct {
	DisplayName         string       `json:"display_name"`
	Alias               string       `json:"alias"`
	Faction             string       `json:"faction"`
	Classification      string       `json:"classification"`
	FirstAppeared       string       `json:"first_appeared"`
	Age                 string       `json:"age"`
	PhysicalDescription string       `json:"physical_description"`
	Power               Power        `json:"power"`
	TriggerEvent        TriggerEvent `json:"trigger_event"`
	Personality         string       `json:"personality"`
	History             string       `json:"history"`
	Knowledge           Knowledge    `json:"knowledge"`
	CurrentState        CurrentState `json:"current_state"`
	LorebookVariable    string       `json:"lorebook_variable"`
}

// Defaults configures the documents written into a freshly created store.
type Defaults struct {
	Setting   string
	StartDate string
	Threshold int
}

func (d Defaults) withFallbacks() Defaults {
	if d.Setting == "" {
		d.Setting = DefaultSetting
	}
	if d.StartDate == "" {
		d.StartDate = DefaultStartDate
	}
	if d.Threshold <= 0 {
		d.Threshold = DefaultDivergenceThreshold
	}
	return d
}

// DefaultIndex returns the master index for a new store bound to chatID.
func DefaultIndex(d Defaults, chatID string, now time.Time) Index {
	d = d.withFallbacks()
	return Index{
		SchemaVersion:       SchemaVersion,
		Setting:             d.Setting,
		ChatID:              chatID,
		CurrentArc:          "1",
		CurrentChapter:      "1.1",
		InWorldDate:         d.StartDate,
		DivergenceThreshold: d.Threshold,
		TimelineReliable:    true,
		ActiveNPCs:          []string{},
		LastUpdated:         now.UTC().Format(time.RFC3339),
		Notes: "Divergence rating increments per confirmed butterfly. When rating hits threshold, " +
			"timeline_reliable flips false and arc_events shifts to reference-only mode.",
	}
}

// DefaultWorldState returns the world state for a new store.
func DefaultWorldState(d Defaults) WorldState {
	d = d.withFallbacks()
	return WorldState{
		InWorldDate:         d.StartDate,
		Arc:                 "1",
		Chapter:             "1.1",
		TerritorialControl:  map[string]any{},
		PublicCapeKnowledge: map[string]any{},
		ActiveSituations:    []any{},
		Divergence:          DefaultDivergence(d.Threshold),
	}
}

// DefaultDivergence returns a fresh divergence record.
func DefaultDivergence(threshold int) Divergence {
	if threshold <= 0 {
		threshold = DefaultDivergenceThreshold
	}
	return Divergence{Threshold: threshold, TimelineReliable: true, Logged: []DivergenceStep{}}
}

// DefaultArcEvents returns an arc ledger with an empty first arc.
func DefaultArcEvents() Document {
	return Document{"arc_1": map[string]any{}}
}

// Scaffold returns a blank character record for a newly introduced character.
func Scaffold(displayName, alias, faction, firstAppeared string) Character {
	if faction == "" {
		faction = "Unknown"
	}
	return Character{
		DisplayName:   displayName,
		Alias:         alias,
		Faction:       faction,
		FirstAppeared: firstAppeared,
		Power:         Power{CurrentLimitations: []string{}},
		Knowledge:     Knowledge{SpecificIntel: []any{}, VisibilityGates: map[string]any{}},
		CurrentState:  CurrentState{RelationshipToUserCharacter: "not yet met"},
		LorebookVariable: "%%NPC_" +
			strings.Join(strings.Fields(strings.ToUpper(displayName)), "_") + "%%",
	}
}

// ToDocument converts a typed value into its generic document form.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// FromDocument decodes a generic document into a typed value. Fields of the
// wrong type are left at their zero value; encoding/json keeps decoding the
// remaining fields after a type mismatch, so the error is ignored.
func FromDocument(d Document, v any) {
	if d == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, v)
}
