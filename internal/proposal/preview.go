package proposal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/worldtracker/pkg/world"
)

// PreviewText renders a short multi-line summary of an imported document for
// the expanded queue view.
func PreviewText(doc world.Document, typ world.FileType) string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }
	orDash := func(s string) string {
		if s == "" {
			return "—"
		}
		return s
	}

	switch typ {
	case world.TypeCharacter:
		name := world.String(doc, "display_name")
		if alias := world.String(doc, "alias"); alias != "" {
			name += " / " + alias
		}
		add("Name:           %s", name)
		add("Faction:        %s", orDash(world.String(doc, "faction")))
		add("Classification: %s", orDash(world.String(doc, "classification")))
		if age := world.Scalar(doc["age"]); age != "" {
			add("Age:            %s", age)
		}
		if s := world.String(world.Object(doc, "power"), "summary"); s != "" {
			add("Power:          %s", s)
		}
		if p := world.String(doc, "personality"); p != "" {
			if cut := truncate(p, 150); cut != p {
				p = cut + "…"
			}
			add("Personality:    %s", p)
		}
		if n := world.String(doc, "critical_note"); n != "" {
			add("!! CRITICAL:    %s", n)
		}
		if r := world.String(world.Object(doc, "current_state"), "relationship_to_user_character"); r != "" {
			add("Relationship:   %s", r)
		}
		if s := world.String(world.Object(doc, "trigger_event"), "summary"); s != "" {
			add("Trigger:        %s", truncate(s, 120))
		}

	case world.TypeWorldState:
		add("Date:  %s", orDash(world.String(doc, "in_world_date")))
		arc := orDash(world.Scalar(doc["arc"]))
		if ch := world.Scalar(doc["chapter"]); ch != "" {
			arc += " ch." + ch
		}
		add("Arc:   %s", arc)
		if div := world.Object(doc, "divergence"); div != nil {
			add("Div:   %s/%s", world.Scalar(div["rating"]), world.Scalar(div["threshold"]))
		}
		if sits, _ := doc["active_situations"].([]any); len(sits) > 0 {
			add("Active situations (%d):", len(sits))
			for _, s := range sits[:min(len(sits), 5)] {
				text, ok := s.(string)
				if !ok {
					text = jsonSnippet(s, snippetLimit)
				}
				add("  • %s", truncate(text, snippetLimit))
			}
		}

	case world.TypeArcEvents:
		arcs := world.ArcKeys(doc)
		add("Arcs present: %s", strings.Join(arcs, ", "))
		for _, k := range arcs {
			n := len(world.Object(doc, k))
			add("  %s: %d %s", k, n, plural(n, "event"))
		}

	case world.TypeIndex:
		if s := world.String(doc, "setting"); s != "" {
			add("Setting: %s", s)
		}
		if a := world.Scalar(doc["current_arc"]); a != "" {
			add("Arc:     %s", a)
		}
		if npcs, ok := doc["active_npcs"].([]any); ok {
			add("Active NPCs: %d", len(npcs))
		}

	default:
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "(preview unavailable)"
		}
		return truncate(string(raw), 400)
	}
	return strings.Join(lines, "\n")
}
