package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/worldtracker/internal/resolve"
	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// DefaultBlockTag is the fence language tag of embedded blocks.
const DefaultBlockTag = "forge"

const maxEventIDLen = 40

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithClock sets the time source used for generated event and knowledge keys.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithBlockTag sets the fence tag that marks embedded blocks.
func WithBlockTag(tag string) Option {
	return func(n *Normalizer) {
		if tag != "" {
			n.tag = tag
		}
	}
}

// Normalizer handles the embedded-block shape. Character names inside a block
// are resolved to keys through the configured [resolve.Resolver].
type Normalizer struct {
	resolver resolve.Resolver
	now      func() time.Time
	tag      string

	blockPattern *regexp.Regexp
	stripPattern *regexp.Regexp
}

// New returns a Normalizer resolving names with r. A nil r uses
// [resolve.Alias].
func New(r resolve.Resolver, opts ...Option) *Normalizer {
	if r == nil {
		r = resolve.Alias{}
	}
	n := &Normalizer{resolver: r, now: time.Now, tag: DefaultBlockTag}
	for _, o := range opts {
		o(n)
	}
	quoted := regexp.QuoteMeta(n.tag)
	n.blockPattern = regexp.MustCompile("(?is)```" + quoted + `\s*(.*?)` + "```")
	n.stripPattern = regexp.MustCompile("(?is)```" + quoted + ".*?```")
	return n
}

// Tag returns the fence tag of embedded blocks.
func (n *Normalizer) Tag() string { return n.tag }

// ExtractBlock finds the first embedded block in raw, uncleaned text and
// decodes it. ok is false when no block is present or its body is not a JSON
// object; the latter is logged.
func (n *Normalizer) ExtractBlock(raw string) (block map[string]any, ok bool) {
	match := n.blockPattern.FindStringSubmatch(raw)
	if match == nil {
		return nil, false
	}
	body := strings.TrimSpace(match[1])
	if err := json.Unmarshal([]byte(body), &block); err != nil || block == nil {
		slog.Warn("normalize: embedded block is not a JSON object",
			"tag", n.tag,
			"err", err,
			"body", truncate(body, 200),
		)
		return nil, false
	}
	return block, true
}

// NormalizeBlock translates an embedded block into the canonical delta. m is
// the current world snapshot used for name resolution; it is not modified.
func (n *Normalizer) NormalizeBlock(block map[string]any, m *world.Model) *delta.Delta {
	d := &delta.Delta{}
	if block == nil {
		return d
	}

	if v, ok := world.Int(block["divergence_delta"]); ok && v > 0 {
		d.DivergenceDelta = v
	}

	ws := asObject(block["world_state"])
	if date, ok := block["in_world_date"].(string); ok && validDate(date) {
		d.InWorldDate = date
	} else if date, ok := ws["in_world_date"].(string); ok && validDate(date) {
		d.InWorldDate = date
	}
	if ws != nil {
		d.WorldState = worldStatePassthrough(ws)
	}

	if ev := block["arc_event"]; world.Truthy(ev) && ev != "null" {
		d.SetArcEvent(n.eventID(ev), delta.StatusFiredCanon)
	}

	for _, upd := range n.collectUpdates(block) {
		key, ok := n.resolver.Resolve(m, upd.name)
		if !ok {
			slog.Debug("normalize: dropping update for unknown character", "name", upd.name)
			continue
		}
		if upd.relationship != "" {
			d.SetRelationship(key, upd.relationship)
		}
		d.MergeCurrentState(key, delta.CurrentState{
			EmotionalState: upd.emotional,
			PhysicalState:  upd.physical,
		})
		if world.Truthy(upd.learned) {
			d.SetKnowledge(key, n.learnedPath(d, key), upd.learned)
		}
	}

	// Categories already in canonical form are passed through.
	direct := FromObject(map[string]any{
		"npc_knowledge":    block["npc_knowledge"],
		"npc_relationship": block["npc_relationship"],
		"new_npcs":         block["new_npcs"],
	})
	for key, paths := range direct.NPCKnowledge {
		for path, val := range paths {
			d.SetKnowledge(key, path, val)
		}
	}
	for key, rel := range direct.NPCRelationship {
		d.SetRelationship(key, rel)
	}
	d.NewNPCs = direct.NewNPCs
	return d
}

// Clean removes reasoning blocks and embedded blocks from narrative text so
// only prose reaches the extraction oracle.
func (n *Normalizer) Clean(text string) string {
	text = n.stripPattern.ReplaceAllString(text, "")
	return CleanReasoning(text)
}

type npcUpdate struct {
	name         string
	relationship string
	emotional    string
	physical     string
	learned      any
}

// collectUpdates gathers npc_updates entries and the older npc_state_change
// form (a single object or a list of {name, change|state}).
func (n *Normalizer) collectUpdates(block map[string]any) []npcUpdate {
	var out []npcUpdate
	if list, ok := block["npc_updates"].([]any); ok {
		for _, e := range list {
			obj := asObject(e)
			name := world.String(obj, "name")
			if strings.TrimSpace(name) == "" {
				continue
			}
			out = append(out, npcUpdate{
				name:         name,
				relationship: world.String(obj, "relationship"),
				emotional:    world.String(obj, "emotional_state"),
				physical:     world.String(obj, "physical_state"),
				learned:      obj["learned"],
			})
		}
	}

	var legacy []any
	switch v := block["npc_state_change"].(type) {
	case []any:
		legacy = v
	case map[string]any:
		legacy = []any{v}
	}
	for _, e := range legacy {
		obj := asObject(e)
		name := world.String(obj, "name")
		if strings.TrimSpace(name) == "" {
			continue
		}
		state := world.String(obj, "change")
		if state == "" {
			state = world.String(obj, "state")
		}
		out = append(out, npcUpdate{name: name, emotional: state})
	}
	return out
}

// eventID slugs a free-text event description: lowercased, runs of
// non-alphanumerics collapsed to "_", at most 40 characters, no leading or
// trailing "_". Values that are not text or slug to nothing get a
// timestamp-based id.
func (n *Normalizer) eventID(v any) string {
	if s, ok := v.(string); ok {
		id := nonAlnum.ReplaceAllString(strings.ToLower(s), "_")
		if len(id) > maxEventIDLen {
			id = id[:maxEventIDLen]
		}
		if id = strings.Trim(id, "_"); id != "" {
			return id
		}
	}
	return "event_" + strconv.FormatInt(n.now().UnixMilli(), 10)
}

// learnedPath returns a fresh knowledge path for a learned fact, unique within
// d so that several facts learned at once never overwrite each other.
func (n *Normalizer) learnedPath(d *delta.Delta, key string) string {
	base := "knowledge.learned_" + strconv.FormatInt(n.now().UnixMilli(), 10)
	path := base
	for i := 2; d.HasKnowledge(key, path); i++ {
		path = fmt.Sprintf("%s_%d", base, i)
	}
	return path
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
