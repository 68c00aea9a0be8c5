package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/worldtracker/pkg/world"
)

const systemPrompt = "You extract confirmed state changes from roleplay narration and answer with one JSON object."

// Summary is the tracked state sent alongside the narrative so the oracle can
// tell what is new.
type Summary struct {
	WorldState  world.Document     `json:"world_state"`
	MasterIndex world.Document     `json:"master_index"`
	ArcEvents   world.Document     `json:"arc_events"`
	ActiveNPCs  []CharacterSummary `json:"active_npcs"`
}

// CharacterSummary is the part of a character record the oracle needs.
type CharacterSummary struct {
	Key          string `json:"key"`
	DisplayName  string `json:"display_name,omitempty"`
	Alias        string `json:"alias,omitempty"`
	CurrentState any    `json:"current_state,omitempty"`
	Knowledge    any    `json:"knowledge,omitempty"`
}

// Summarize builds the state summary of m. Characters are listed by key.
func Summarize(m *world.Model) Summary {
	s := Summary{ActiveNPCs: []CharacterSummary{}}
	if m == nil {
		return s
	}
	s.WorldState = m.WorldState
	s.MasterIndex = m.Index
	s.ArcEvents = m.ArcEvents
	for _, key := range m.CharacterKeys() {
		rec := m.Characters[key]
		s.ActiveNPCs = append(s.ActiveNPCs, CharacterSummary{
			Key:          key,
			DisplayName:  world.String(rec, "display_name"),
			Alias:        world.String(rec, "alias"),
			CurrentState: rec["current_state"],
			Knowledge:    rec["knowledge"],
		})
	}
	return s
}

const promptHeader = `Read the narrative below and compare it with the tracked state. Report ONLY concrete changes that definitely happened in the text. Do not infer or speculate.

Answer with a single JSON object. If nothing changed, answer {}.

Categories (omit any that did not change):

npc_knowledge: facts an NPC newly learned.
  {"npc_key": {"knowledge.field": value}}

npc_relationship: visible shifts in an NPC's relationship to the user character.
  {"npc_key": "new relationship description"}

npc_current_state: physical or emotional state changes.
  {"npc_key": {"emotional_state": "...", "physical_state": "..."}}

npc_appearance: concrete visual details the narration describes or confirms (hair, eyes, height, build, face, clothing_style, distinguishing_marks). Include only fields actually described.
  {"npc_key": {"hair": "...", "eyes": "..."}}

npc_aliases: a name or alias revealed, adopted or dropped in this scene.
  {"npc_key": {"alias": "primary name", "aliases": ["every known name"]}}

arc_events: tracked canon events that fired, were altered or were skipped.
  {"event_id": "fired-canon" | "fired-altered" | "skipped"}

new_npcs: named characters not yet tracked.
  [{"display_name": "", "alias": "", "aliases": [], "faction": "", "first_appeared": ""}]

world_state: city-level changes such as territory, public knowledge or new situations.
  {"field_name": value}

divergence_delta: integer count of newly confirmed departures from canon, 0 if none.

in_world_date: the new date if time advanced in the scene, otherwise null.
`

// BuildPrompt renders the extraction prompt for cleaned narrative text.
func BuildPrompt(text string, s Summary) (string, error) {
	var state bytes.Buffer
	enc := json.NewEncoder(&state)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("extract: encode state summary: %w", err)
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\nTRACKED STATE:\n")
	b.Write(bytes.TrimSpace(state.Bytes()))
	b.WriteString("\n\nNARRATIVE:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\nAnswer with JSON only. No explanation, no markdown fences.")
	return b.String(), nil
}
