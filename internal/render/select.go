package render

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/worldtracker/pkg/world"
)

// Selection defaults.
const (
	DefaultMaxNPCs   = 8
	DefaultScanDepth = 3
)

var (
	presentPattern  = regexp.MustCompile(`present|scene|with pc|same room`)
	hostilePattern  = regexp.MustCompile(`hostile|enemy|threat`)
	trustedPattern  = regexp.MustCompile(`trusted|loyal|ally`)
	romanticPattern = regexp.MustCompile(`romantic|love|crush`)
)

// Options bounds character selection.
type Options struct {
	// MaxNPCs is the number of cards injected at most.
	MaxNPCs int

	// ScanDepth is the number of most recent messages scanned for names.
	ScanDepth int
}

func (o Options) withDefaults() Options {
	if o.MaxNPCs <= 0 {
		o.MaxNPCs = DefaultMaxNPCs
	}
	if o.ScanDepth <= 0 {
		o.ScanDepth = DefaultScanDepth
	}
	return o
}

// Score rates how relevant a character is to recent, the lowercased recent
// conversation. Zero means irrelevant.
//
// A name, alias or known alias appearing verbatim scores 10; failing that, a
// first name longer than three letters scores 7. Being physically present
// adds 8, and hostile, trusted and romantic relationships add 5, 4 and 6.
// Any recorded intel adds 1.
func Score(rec world.Document, recent string) int {
	score := 0
	names := append([]string{world.String(rec, "display_name"), world.String(rec, "alias")}, world.Strings(rec, "aliases")...)
	for _, name := range names {
		if name == "" {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(recent, lower) {
			score += 10
			break
		}
		if first := strings.Fields(lower); len(first) > 0 && len(first[0]) > 3 && strings.Contains(recent, first[0]) {
			score += 7
			break
		}
	}

	cs := world.Object(rec, "current_state")
	if presentPattern.MatchString(strings.ToLower(world.String(cs, "physical_state"))) {
		score += 8
	}
	rel := strings.ToLower(world.String(cs, "relationship_to_user_character"))
	if hostilePattern.MatchString(rel) {
		score += 5
	}
	if trustedPattern.MatchString(rel) {
		score += 4
	}
	if romanticPattern.MatchString(rel) {
		score += 6
	}

	if intel, _ := world.Object(rec, "knowledge")["specific_intel"].([]any); len(intel) > 0 {
		score++
	}
	return score
}

// Selected is a character chosen for injection.
type Selected struct {
	Key    string
	Record world.Document
	Score  int
}

// RecentText joins the last depth messages and lowercases them.
func RecentText(messages []string, depth int) string {
	if depth > 0 && len(messages) > depth {
		messages = messages[len(messages)-depth:]
	}
	return strings.ToLower(strings.Join(messages, " "))
}

// Select returns the most relevant characters for the recent messages,
// highest score first, ties broken by key.
func Select(m *world.Model, messages []string, opts Options) []Selected {
	if m == nil {
		return nil
	}
	opts = opts.withDefaults()
	recent := RecentText(messages, opts.ScanDepth)

	var out []Selected
	for _, key := range m.CharacterKeys() {
		rec := m.Characters[key]
		if s := Score(rec, recent); s > 0 {
			out = append(out, Selected{Key: key, Record: rec, Score: s})
		}
	}
	slices.SortStableFunc(out, func(a, b Selected) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(out) > opts.MaxNPCs {
		out = out[:opts.MaxNPCs]
	}
	return out
}

// Injection is the text added to the narrator's prompt.
type Injection struct {
	// World holds the world state block and the fired arc events.
	World string

	// NPCs holds the cards of the selected characters.
	NPCs string

	// Selected lists the characters behind NPCs.
	Selected []Selected
}

// Inject renders the prompt injection for m and the recent messages.
func Inject(m *world.Model, messages []string, opts Options) Injection {
	var parts []string
	for _, p := range []string{WorldState(m), ArcEvents(m)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	inj := Injection{World: strings.Join(parts, "\n\n"), Selected: Select(m, messages, opts)}

	var cards []string
	for _, s := range inj.Selected {
		if c := Character(s.Record); c != "" {
			cards = append(cards, c)
		}
	}
	if len(inj.Selected) > 0 {
		inj.NPCs = fmt.Sprintf("=== ACTIVE NPCs (%d) ===\n%s", len(inj.Selected), strings.Join(cards, "\n\n"))
	}
	return inj
}

// Summary renders the short panel summary: date, arc, divergence, number of
// tracked characters and the characters currently injected.
func Summary(m *world.Model, selected []Selected) string {
	if m == nil {
		return ""
	}
	ws := m.WorldState
	var lines []string
	if d := world.Scalar(ws["in_world_date"]); d != "" {
		lines = append(lines, "📅 "+d)
	}
	if a := world.Scalar(ws["arc"]); a != "" {
		lines = append(lines, "📖 Arc "+a+chapter(ws))
	}
	if div := world.Object(ws, "divergence"); div != nil {
		rating, _ := world.Int(div["rating"])
		line := fmt.Sprintf("⚡ Divergence %d/%d", rating, threshold(div))
		if unreliable(div) {
			line += " ⚠"
		}
		lines = append(lines, line)
	}
	n := len(m.Characters)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	lines = append(lines, fmt.Sprintf("👤 %d NPC%s tracked", n, plural))

	if len(selected) > 0 {
		names := make([]string, len(selected))
		for i, s := range selected {
			names[i] = world.String(s.Record, "alias")
			if names[i] == "" {
				names[i] = world.DisplayName(s.Key, s.Record)
			}
		}
		lines = append(lines, "🎯 Injecting: "+strings.Join(names, ", "))
	}
	return strings.Join(lines, "\n")
}
