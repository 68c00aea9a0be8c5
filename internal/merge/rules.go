// Package merge holds the apply rules for every change category and the
// [Engine] that owns the live world model.
//
// Rules are synchronous and perform no I/O. Scalars are last-write-wins,
// current_state is merged shallowly, knowledge paths are deep-set, arc events
// only ever update events that already exist in the current arc, and the
// divergence rating only grows. Once the rating reaches its threshold the
// timeline is marked unreliable and stays that way.
package merge

import (
	"slices"
	"time"

	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// character returns the record for key, creating an empty one when absent.
func character(m *world.Model, key string) world.Document {
	if m.Characters == nil {
		m.Characters = make(map[string]world.Document)
	}
	rec := m.Characters[key]
	if rec == nil {
		rec = world.Document{}
		m.Characters[key] = rec
	}
	return rec
}

// SetKnowledge deep-sets value at path on the character record.
func SetKnowledge(m *world.Model, key, path string, value any) {
	world.SetPath(character(m, key), path, world.CloneValue(value))
}

// SetRelationship replaces the character's relationship to the user
// character.
func SetRelationship(m *world.Model, key, text string) {
	cs := world.EnsureObject(character(m, key), "current_state")
	cs["relationship_to_user_character"] = text
}

// MergeCurrentState shallow-merges the non-empty fields of update into the
// character's current_state.
func MergeCurrentState(m *world.Model, key string, update delta.CurrentState) {
	cs := world.EnsureObject(character(m, key), "current_state")
	for _, kv := range update.Fields() {
		cs[kv[0]] = kv[1]
	}
}

// MergeAppearance shallow-merges described appearance fields into the
// character's appearance object.
func MergeAppearance(m *world.Model, key string, fields map[string]string) {
	app := world.EnsureObject(character(m, key), "appearance")
	for k, v := range fields {
		app[k] = v
	}
}

// AliasChanged reports whether update would change the record's alias or
// alias list.
func AliasChanged(rec world.Document, update delta.AliasUpdate) bool {
	if update.Alias != "" && update.Alias != world.String(rec, "alias") {
		return true
	}
	return len(update.Aliases) > 0 && !slices.Equal(update.Aliases, world.Strings(rec, "aliases"))
}

// UpdateAliases sets the primary alias and/or the full alias list.
func UpdateAliases(m *world.Model, key string, update delta.AliasUpdate) {
	rec := character(m, key)
	if update.Alias != "" {
		rec["alias"] = update.Alias
	}
	if len(update.Aliases) > 0 {
		list := make([]any, len(update.Aliases))
		for i, a := range update.Aliases {
			list[i] = a
		}
		rec["aliases"] = list
	}
}

// SetArcEventStatus sets player_status of an event in the current arc. Events
// that do not exist are left alone, as is the whole ledger.
func SetArcEventStatus(m *world.Model, id string, status delta.EventStatus) bool {
	arc := world.Object(m.ArcEvents, m.CurrentArcKey())
	ev := world.Object(arc, id)
	if ev == nil {
		return false
	}
	ev["player_status"] = string(status)
	return true
}

// SetWorldField overwrites one top-level world state field.
func SetWorldField(m *world.Model, field string, value any) {
	m.EnsureWorldState()[field] = world.CloneValue(value)
}

// divergence returns the world state divergence record, creating the default
// record when absent and filling in missing fields.
func divergence(m *world.Model) world.Document {
	ws := m.EnsureWorldState()
	div, ok := ws["divergence"].(map[string]any)
	if !ok {
		div = world.Document{}
		ws["divergence"] = div
	}
	if _, ok := world.Number(div["rating"]); !ok {
		div["rating"] = 0
	}
	if t, ok := world.Number(div["threshold"]); !ok || t <= 0 {
		threshold := world.DefaultDivergenceThreshold
		if it, ok := world.Int(m.Index["divergence_threshold"]); ok && it > 0 {
			threshold = it
		}
		div["threshold"] = threshold
	}
	if _, ok := div["timeline_reliable"].(bool); !ok {
		div["timeline_reliable"] = true
	}
	if _, ok := div["logged"].([]any); !ok {
		div["logged"] = []any{}
	}
	return div
}

// CurrentDivergence returns the current divergence rating.
func CurrentDivergence(m *world.Model) int {
	if m == nil {
		return 0
	}
	r, _ := world.Int(world.Object(m.WorldState, "divergence")["rating"])
	return r
}

// AddDivergence adds n (> 0) to the rating, logs the step and latches
// timeline_reliable to false once the rating reaches the threshold. The index
// mirror fields follow.
func AddDivergence(m *world.Model, n int, now time.Time) {
	if n <= 0 {
		return
	}
	div := divergence(m)
	rating, _ := world.Int(div["rating"])
	threshold, _ := world.Int(div["threshold"])
	rating += n
	div["rating"] = rating
	div["logged"] = append(div["logged"].([]any), map[string]any{
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"delta":     n,
	})
	if rating >= threshold {
		div["timeline_reliable"] = false
	}

	if m.Index != nil {
		m.Index["divergence_rating"] = rating
		if reliable, _ := div["timeline_reliable"].(bool); !reliable {
			m.Index["timeline_reliable"] = false
		}
	}
}

// SetDate sets the in-world date on the world state and the index mirror.
func SetDate(m *world.Model, date string) {
	m.EnsureWorldState()["in_world_date"] = date
	if m.Index != nil {
		m.Index["in_world_date"] = date
	}
}

// CreateCharacter scaffolds a record for a new character and registers its
// key in the index. It reports false, changing nothing, when a record with a
// display name already exists under the key. A nameless stub left by earlier
// updates in the same batch is folded into the scaffold.
func CreateCharacter(m *world.Model, nc delta.NewCharacter) (string, bool) {
	key := world.CharacterKey(nc.DisplayName)
	stub, exists := m.Characters[key]
	if exists && world.String(stub, "display_name") != "" {
		return key, false
	}
	rec, err := world.ToDocument(world.Scaffold(nc.DisplayName, nc.Alias, nc.Faction, nc.FirstAppeared))
	if err != nil {
		return key, false
	}
	overlay(rec, stub)
	if m.Characters == nil {
		m.Characters = make(map[string]world.Document)
	}
	m.Characters[key] = rec
	if len(nc.Aliases) > 0 {
		UpdateAliases(m, key, delta.AliasUpdate{Aliases: nc.Aliases})
	}
	registerActive(m, key)
	return key, true
}

// PutFile stores a whole document under filename, replacing any previous one.
// Character files are registered in the index.
func PutFile(m *world.Model, filename string, doc world.Document) {
	m.PutFile(filename, world.CloneDocument(doc))
	if world.IsCharacterFile(filename) {
		registerActive(m, world.KeyFromFile(filename))
	}
}

// overlay deep-merges src into dst. Objects merge recursively, everything
// else in src replaces dst.
func overlay(dst, src world.Document) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if target, ok := dst[k].(map[string]any); ok {
				overlay(target, sub)
				continue
			}
		}
		dst[k] = world.CloneValue(v)
	}
}

func registerActive(m *world.Model, key string) {
	if m.Index == nil {
		return
	}
	active := world.Strings(m.Index, "active_npcs")
	if slices.Contains(active, key) {
		return
	}
	list, _ := m.Index["active_npcs"].([]any)
	m.Index["active_npcs"] = append(list, key)
}
