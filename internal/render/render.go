// Package render turns the world model into prompt-ready text: a world state
// block, the fired events of the current arc and cards for the characters
// most relevant to the recent conversation.
//
// All functions are pure and safe for concurrent use. Empty sections are
// omitted rather than rendered as bare headers.
package render

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/worldtracker/pkg/world"
)

// WorldState renders the world state block. It returns "" when the model has
// neither a date nor an arc.
func WorldState(m *world.Model) string {
	if m == nil {
		return ""
	}
	ws := m.WorldState
	date, arc := world.Scalar(ws["in_world_date"]), world.Scalar(ws["arc"])
	if date == "" && arc == "" {
		return ""
	}

	lines := []string{
		"=== WORLD STATE ===",
		fmt.Sprintf("Date: %s  |  Arc %s%s", orUnknown(date), orUnknown(arc), chapter(ws)),
	}

	if div := world.Object(ws, "divergence"); div != nil {
		if rating, ok := world.Int(div["rating"]); ok {
			line := fmt.Sprintf("Divergence: %d/%d", rating, threshold(div))
			if unreliable(div) {
				line += "  ⚠ TIMELINE UNRELIABLE — arc events reference only"
			}
			lines = append(lines, line)
		}
	}

	if situations, _ := ws["active_situations"].([]any); len(situations) > 0 {
		lines = append(lines, "", "Active situations:")
		for _, s := range situations {
			lines = append(lines, "  • "+text(s))
		}
	}

	factions := world.Object(ws, "faction_status")
	if factions == nil {
		factions = world.Object(ws, "territorial_control")
	}
	if len(factions) > 0 {
		lines = append(lines, "", "Faction status:")
		for _, name := range slices.Sorted(maps.Keys(factions)) {
			status := factions[name]
			if obj, ok := status.(map[string]any); ok {
				if s := world.Scalar(obj["status"]); s != "" {
					status = s
				}
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", name, text(status)))
		}
	}

	var known []string
	secrets := world.Object(ws, "known_secrets")
	for _, k := range slices.Sorted(maps.Keys(secrets)) {
		switch v := secrets[k].(type) {
		case bool:
			if v {
				known = append(known, k)
			}
		case string:
			if strings.Contains(strings.ToLower(v), "know") {
				known = append(known, k)
			}
		}
	}
	if len(known) > 0 {
		lines = append(lines, "", "PC currently knows:")
		for _, k := range known {
			lines = append(lines, "  • "+spaced(k))
		}
	}

	return strings.Join(lines, "\n")
}

// ArcEvents renders the events of the current arc that are no longer
// pending. It returns "" when there are none.
func ArcEvents(m *world.Model) string {
	if m == nil {
		return ""
	}
	arc := world.Scalar(m.WorldState["arc"])
	if arc == "" {
		arc = "1"
	}
	events := world.Object(m.ArcEvents, "arc_"+arc)

	var fired []string
	for _, id := range slices.Sorted(maps.Keys(events)) {
		ev, _ := events[id].(map[string]any)
		status := world.String(ev, "player_status")
		if status == "" || status == world.StatusPending {
			continue
		}
		fired = append(fired, fmt.Sprintf("  [%s] %s — %s", strings.ToUpper(status), spaced(id), world.String(ev, "summary")))
	}
	if len(fired) == 0 {
		return ""
	}
	return fmt.Sprintf("=== ARC %s EVENTS (FIRED) ===\n%s", arc, strings.Join(fired, "\n"))
}

// Character renders a character card. It returns "" for records without a
// display name.
func Character(rec world.Document) string {
	name := world.String(rec, "display_name")
	if name == "" {
		return ""
	}

	alias := ""
	if a := world.String(rec, "alias"); a != "" {
		alias = fmt.Sprintf(" %q", a)
	}
	faction := world.String(rec, "faction")
	if faction == "" {
		faction = "Unknown"
	}
	lines := []string{fmt.Sprintf("[NPC: %s%s | %s | %s]",
		strings.ToUpper(name), alias, faction, world.String(rec, "classification"))}

	if s := world.String(rec, "physical_description"); s != "" {
		lines = append(lines, "Physical: "+s)
	}
	if p := world.Object(rec, "power"); p != nil {
		if s := world.String(p, "summary"); s != "" {
			lines = append(lines, "Power: "+s)
		}
		if l := world.Strings(p, "current_limitations"); len(l) > 0 {
			lines = append(lines, "  Limitations: "+strings.Join(l, "; "))
		}
		if v := world.StringList(p["vulnerabilities"]); len(v) > 0 {
			lines = append(lines, "  Vulnerabilities: "+strings.Join(v, "; "))
		}
		if s := world.String(p, "cannot_do"); s != "" {
			lines = append(lines, "  Cannot: "+s)
		}
	}
	if s := world.String(rec, "personality"); s != "" {
		lines = append(lines, "Personality: "+s)
	}

	cs := world.Object(rec, "current_state")
	lines = append(lines, "Current:")
	if s := world.String(cs, "relationship_to_user_character"); s != "" {
		lines = append(lines, "  → Relationship to PC: "+s)
	}
	if s := world.String(cs, "emotional_state"); s != "" {
		lines = append(lines, "  → Emotional: "+s)
	}
	if s := world.String(cs, "physical_state"); s != "" {
		lines = append(lines, "  → Physical: "+s)
	}

	know := world.Object(rec, "knowledge")
	var facts, hidden []string
	intel, _ := know["specific_intel"].([]any)
	for _, item := range intel {
		switch v := item.(type) {
		case string:
			if v != "" {
				facts = append(facts, v)
			}
		case map[string]any:
			facts = append(facts, world.Scalar(v["fact"]))
		}
	}
	gates := world.Object(know, "visibility_gates")
	for _, k := range slices.Sorted(maps.Keys(gates)) {
		if v := gates[k]; v == false || v == "hidden" {
			hidden = append(hidden, k)
		}
	}
	if len(facts) > 0 || len(hidden) > 0 {
		lines = append(lines, "Knowledge:")
		for _, f := range facts {
			lines = append(lines, "  [KNOWS] "+f)
		}
		for _, k := range hidden {
			lines = append(lines, "  [DOES NOT KNOW] "+spaced(k))
		}
	}

	if s := world.String(rec, "critical_note"); s != "" {
		lines = append(lines, "!! CRITICAL: "+s)
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func chapter(ws world.Document) string {
	if c := world.Scalar(ws["chapter"]); c != "" {
		return " ch." + c
	}
	return ""
}

func threshold(div world.Document) int {
	if t, ok := world.Int(div["threshold"]); ok && t > 0 {
		return t
	}
	return world.DefaultDivergenceThreshold
}

// unreliable reports a latched timeline. A missing flag counts as reliable.
func unreliable(div world.Document) bool {
	reliable, ok := div["timeline_reliable"].(bool)
	return ok && !reliable
}

func spaced(id string) string { return strings.ReplaceAll(id, "_", " ") }

// text renders strings as they are and anything else as compact JSON.
func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
