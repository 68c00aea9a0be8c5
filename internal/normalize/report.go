// Package normalize turns raw extraction output into a canonical
// [delta.Delta].
//
// Two raw shapes are understood:
//
//   - the direct report: a JSON object produced by the extraction oracle,
//     already shaped like the canonical delta but possibly wrapped in
//     markdown fences or surrounded by prose ([ParseReport]);
//   - the embedded block: a fenced JSON block the narrator writes into its own
//     output, with its own field names ([Normalizer.NormalizeBlock]).
//
// Shape checks happen here so that everything downstream can trust the delta:
// wrong-typed categories are dropped, unknown arc statuses are ignored,
// divergence is never negative and the divergence record itself can never be
// overwritten through world_state.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// ErrNotObject is returned when raw text does not decode to a JSON object.
var ErrNotObject = errors.New("normalize: report is not a JSON object")

var fencePattern = regexp.MustCompile("(?i)```(?:json)?")

// ParseReport decodes a direct report. Markdown fences are stripped first; if
// the remainder is not valid JSON, the outermost {...} span is tried. Anything
// that is not a JSON object yields [ErrNotObject].
func ParseReport(raw string) (*delta.Delta, error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNotObject)
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		start, end := strings.IndexByte(cleaned, '{'), strings.LastIndexByte(cleaned, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, v)
	}
	return FromObject(obj), nil
}

// FromObject validates a decoded report object category by category and
// returns the canonical delta. Invalid entries are skipped, never fatal.
func FromObject(obj map[string]any) *delta.Delta {
	d := &delta.Delta{}

	for name, v := range asObject(obj["npc_knowledge"]) {
		fields := asObject(v)
		key := world.KeyFromFile(strings.TrimSpace(name))
		if fields == nil || key == "" {
			slog.Debug("normalize: skipping malformed npc_knowledge entry", "character", name)
			continue
		}
		for path, val := range fields {
			if path = strings.Trim(path, ". "); path != "" {
				d.SetKnowledge(key, path, val)
			}
		}
	}

	for name, v := range asObject(obj["npc_relationship"]) {
		s, ok := v.(string)
		key := world.KeyFromFile(strings.TrimSpace(name))
		if !ok || s == "" || key == "" {
			continue
		}
		d.SetRelationship(key, s)
	}

	for name, v := range asObject(obj["npc_current_state"]) {
		fields := asObject(v)
		key := world.KeyFromFile(strings.TrimSpace(name))
		if fields == nil || key == "" {
			continue
		}
		cs := delta.CurrentState{
			EmotionalState: world.String(fields, "emotional_state"),
			PhysicalState:  world.String(fields, "physical_state"),
		}
		d.MergeCurrentState(key, cs)
	}

	for name, v := range asObject(obj["npc_appearance"]) {
		fields := asObject(v)
		key := world.KeyFromFile(strings.TrimSpace(name))
		if fields == nil || key == "" {
			continue
		}
		for field, val := range fields {
			s, ok := val.(string)
			if !ok || s == "" {
				continue
			}
			if d.NPCAppearance == nil {
				d.NPCAppearance = make(map[string]map[string]string)
			}
			if d.NPCAppearance[key] == nil {
				d.NPCAppearance[key] = make(map[string]string)
			}
			d.NPCAppearance[key][field] = s
		}
	}

	for name, v := range asObject(obj["npc_aliases"]) {
		fields := asObject(v)
		key := world.KeyFromFile(strings.TrimSpace(name))
		if fields == nil || key == "" {
			continue
		}
		upd := delta.AliasUpdate{
			Alias:   world.String(fields, "alias"),
			Aliases: world.StringList(fields["aliases"]),
		}
		if upd.Alias == "" && len(upd.Aliases) == 0 {
			continue
		}
		if d.NPCAliases == nil {
			d.NPCAliases = make(map[string]delta.AliasUpdate)
		}
		d.NPCAliases[key] = upd
	}

	for id, v := range asObject(obj["arc_events"]) {
		s, _ := v.(string)
		status := delta.EventStatus(s)
		if id == "" || !status.Valid() {
			slog.Debug("normalize: skipping arc event with unknown status", "event", id, "status", v)
			continue
		}
		d.SetArcEvent(id, status)
	}

	if ws := asObject(obj["world_state"]); len(ws) > 0 {
		d.WorldState = worldStatePassthrough(ws)
		if date, ok := ws["in_world_date"].(string); ok && validDate(date) {
			d.InWorldDate = date
		}
	}

	if n, ok := world.Int(obj["divergence_delta"]); ok && n > 0 {
		d.DivergenceDelta = n
	}

	if date, ok := obj["in_world_date"].(string); ok && validDate(date) {
		d.InWorldDate = date
	}

	d.NewNPCs = newCharacters(obj["new_npcs"])
	return d
}

// worldStatePassthrough copies world state fields, leaving out the date (it
// has its own proposal) and the divergence record (only changed through
// divergence_delta).
func worldStatePassthrough(ws map[string]any) map[string]any {
	out := make(map[string]any, len(ws))
	for k, v := range ws {
		if k == "in_world_date" || k == "divergence" || k == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func newCharacters(v any) []delta.NewCharacter {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []delta.NewCharacter
	for _, e := range list {
		obj := asObject(e)
		name := strings.TrimSpace(world.String(obj, "display_name"))
		if name == "" {
			continue
		}
		out = append(out, delta.NewCharacter{
			DisplayName:   name,
			Alias:         world.String(obj, "alias"),
			Aliases:       world.StringList(obj["aliases"]),
			Faction:       world.String(obj, "faction"),
			FirstAppeared: world.Scalar(obj["first_appeared"]),
		})
	}
	return out
}

func validDate(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "null")
}

func asObject(v any) map[string]any {
	obj, _ := v.(map[string]any)
	return obj
}
