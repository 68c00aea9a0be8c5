package proposal

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/internal/resolve"
	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// snippetLimit bounds JSON values quoted in descriptions.
const snippetLimit = 80

// Option configures an [Expander].
type Option func(*Expander)

// WithIDFunc overrides proposal ID generation. Tests use it for stable ids.
func WithIDFunc(fn func() string) Option {
	return func(e *Expander) { e.newID = fn }
}

// WithClock overrides the clock used when a divergence proposal is applied.
func WithClock(now func() time.Time) Option {
	return func(e *Expander) { e.now = now }
}

// Expander turns canonical deltas into proposals.
type Expander struct {
	resolver resolve.Resolver
	newID    func() string
	now      func() time.Time
}

// NewExpander returns an Expander resolving character references with r. A
// nil r selects [resolve.Alias].
func NewExpander(r resolve.Resolver, opts ...Option) *Expander {
	if r == nil {
		r = resolve.Alias{}
	}
	e := &Expander{
		resolver: r,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Expand returns one proposal per leaf change of d, in category order:
// knowledge, relationship, current state, appearance, aliases, arc events,
// world state, divergence, date and new characters. Keys within a category
// are sorted. snap is read to fill in old values and is never retained.
func (e *Expander) Expand(d *delta.Delta, snap *world.Model, contextID string) []*Proposal {
	if d.IsEmpty() {
		return nil
	}
	if snap == nil {
		snap = world.New()
	}
	b := &batch{e: e, d: d, snap: snap, contextID: contextID}

	b.knowledge()
	b.relationships()
	b.currentStates()
	b.appearances()
	b.aliases()
	b.arcEvents()
	b.worldState()
	b.divergence()
	b.date()
	b.newCharacters()

	return b.out
}

// batch holds the state of a single Expand call.
type batch struct {
	e         *Expander
	d         *delta.Delta
	snap      *world.Model
	contextID string
	out       []*Proposal
}

func (b *batch) add(p *Proposal) {
	p.ID = b.e.newID()
	p.ContextID = b.contextID
	b.out = append(b.out, p)
}

// target resolves a character reference from the delta. References to
// characters introduced by the same delta resolve to their new key.
func (b *batch) target(ref string) (string, bool) {
	if key, ok := b.e.resolver.Resolve(b.snap, ref); ok {
		return key, true
	}
	ref = world.KeyFromFile(strings.TrimSpace(ref))
	for _, nc := range b.d.NewNPCs {
		key := world.CharacterKey(nc.DisplayName)
		if ref == key || world.CharacterKey(ref) == key {
			return key, true
		}
	}
	slog.Debug("proposal: dropping change for unresolved character", "ref", ref)
	return "", false
}

// resolvedKeys resolves and sorts the keys of a per-character map for
// categories that yield one proposal per character. When two references
// resolve to the same key the lexically first reference wins.
func resolvedKeys[V any](b *batch, m map[string]V) []resolvedRef {
	var out []resolvedRef
	seen := make(map[string]bool)
	for _, ref := range slices.Sorted(maps.Keys(m)) {
		key, ok := b.target(ref)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, resolvedRef{ref: ref, key: key})
	}
	slices.SortFunc(out, func(a, c resolvedRef) int { return strings.Compare(a.key, c.key) })
	return out
}

type resolvedRef struct{ ref, key string }

func (b *batch) name(key string) string {
	return world.DisplayName(key, b.snap.Character(key))
}

// knowledgeByKey resolves the references of the knowledge section and merges
// the path maps of references naming the same character. On a path conflict
// the lexically first reference wins.
func (b *batch) knowledgeByKey() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, ref := range slices.Sorted(maps.Keys(b.d.NPCKnowledge)) {
		key, ok := b.target(ref)
		if !ok {
			continue
		}
		paths := out[key]
		if paths == nil {
			paths = make(map[string]any)
			out[key] = paths
		}
		for path, value := range b.d.NPCKnowledge[ref] {
			if _, taken := paths[path]; taken {
				slog.Debug("proposal: duplicate knowledge path", "ref", ref, "key", key, "path", path)
				continue
			}
			paths[path] = value
		}
	}
	return out
}

func (b *batch) knowledge() {
	byKey := b.knowledgeByKey()
	for _, key := range slices.Sorted(maps.Keys(byKey)) {
		changes := byKey[key]
		for _, path := range slices.Sorted(maps.Keys(changes)) {
			value := world.CloneValue(changes[path])
			old, _ := world.GetPath(b.snap.Character(key), path)
			b.add(&Proposal{
				Category: CategoryKnowledge,
				Target:   key,
				Description: fmt.Sprintf("%s: knowledge — %s → %s",
					b.name(key), strings.ReplaceAll(path, ".", " → "), jsonSnippet(value, snippetLimit)),
				OldValue: world.CloneValue(old),
				NewValue: value,
				mutate:   func(m *world.Model) { merge.SetKnowledge(m, key, path, value) },
			})
		}
	}
}

func (b *batch) relationships() {
	for _, r := range resolvedKeys(b, b.d.NPCRelationship) {
		key, text := r.key, b.d.NPCRelationship[r.ref]
		old := world.String(world.Object(b.snap.Character(key), "current_state"), "relationship_to_user_character")
		desc := fmt.Sprintf("%s: relationship → %s", b.name(key), text)
		if old != "" {
			desc += fmt.Sprintf(" (was: %s)", old)
		}
		var oldValue any
		if old != "" {
			oldValue = old
		}
		b.add(&Proposal{
			Category:    CategoryRelationship,
			Target:      key,
			Description: desc,
			OldValue:    oldValue,
			NewValue:    text,
			mutate:      func(m *world.Model) { merge.SetRelationship(m, key, text) },
		})
	}
}

func (b *batch) currentStates() {
	for _, r := range resolvedKeys(b, b.d.NPCCurrentState) {
		key, update := r.key, b.d.NPCCurrentState[r.ref]
		fields := update.Fields()
		if len(fields) == 0 {
			continue
		}
		parts := make([]string, len(fields))
		for i, kv := range fields {
			parts[i] = kv[0] + ": " + kv[1]
		}
		b.add(&Proposal{
			Category:    CategoryState,
			Target:      key,
			Description: fmt.Sprintf("%s: state — %s", b.name(key), strings.Join(parts, "; ")),
			OldValue:    world.CloneValue(b.snap.Character(key)["current_state"]),
			NewValue:    update,
			mutate:      func(m *world.Model) { merge.MergeCurrentState(m, key, update) },
		})
	}
}

func (b *batch) appearances() {
	for _, r := range resolvedKeys(b, b.d.NPCAppearance) {
		key, fields := r.key, maps.Clone(b.d.NPCAppearance[r.ref])
		if len(fields) == 0 {
			continue
		}
		var parts []string
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			parts = append(parts, k+": "+fields[k])
		}
		b.add(&Proposal{
			Category:    CategoryAppearance,
			Target:      key,
			Description: fmt.Sprintf("%s: appearance — %s", b.name(key), strings.Join(parts, "; ")),
			OldValue:    world.CloneValue(b.snap.Character(key)["appearance"]),
			NewValue:    fields,
			mutate:      func(m *world.Model) { merge.MergeAppearance(m, key, fields) },
		})
	}
}

func (b *batch) aliases() {
	for _, r := range resolvedKeys(b, b.d.NPCAliases) {
		key, update := r.key, b.d.NPCAliases[r.ref]
		update.Aliases = slices.Clone(update.Aliases)
		rec := b.snap.Character(key)
		if !merge.AliasChanged(rec, update) {
			continue
		}
		oldAlias, oldAliases := world.String(rec, "alias"), world.Strings(rec, "aliases")

		var changes []string
		if update.Alias != "" && update.Alias != oldAlias {
			prev := oldAlias
			if prev == "" {
				prev = "?"
			}
			changes = append(changes, fmt.Sprintf("primary name: %s → %s", prev, update.Alias))
		}
		if len(update.Aliases) > 0 {
			changes = append(changes, fmt.Sprintf("known names: [%s] → [%s]",
				strings.Join(oldAliases, ", "), strings.Join(update.Aliases, ", ")))
		}
		b.add(&Proposal{
			Category:    CategoryAliases,
			Target:      key,
			Description: fmt.Sprintf("%s: alias update — %s", b.name(key), strings.Join(changes, "; ")),
			OldValue:    delta.AliasUpdate{Alias: oldAlias, Aliases: oldAliases},
			NewValue:    update,
			mutate:      func(m *world.Model) { merge.UpdateAliases(m, key, update) },
		})
	}
}

func (b *batch) arcEvents() {
	arc := world.Object(b.snap.ArcEvents, b.snap.CurrentArcKey())
	for _, id := range slices.Sorted(maps.Keys(b.d.ArcEvents)) {
		status := b.d.ArcEvents[id]
		var old any
		if ev := world.Object(arc, id); ev != nil {
			old = ev["player_status"]
		}
		b.add(&Proposal{
			Category:    CategoryArcEvent,
			Target:      id,
			Description: fmt.Sprintf("Arc event: %q → %s", strings.ReplaceAll(id, "_", " "), status),
			OldValue:    old,
			NewValue:    status,
			mutate:      func(m *world.Model) { merge.SetArcEventStatus(m, id, status) },
		})
	}
}

func (b *batch) worldState() {
	for _, field := range slices.Sorted(maps.Keys(b.d.WorldState)) {
		value := world.CloneValue(b.d.WorldState[field])
		var old any
		if b.snap.WorldState != nil {
			old = world.CloneValue(b.snap.WorldState[field])
		}
		b.add(&Proposal{
			Category:    CategoryWorldState,
			Description: fmt.Sprintf("World state: %s → %s", field, jsonSnippet(value, snippetLimit)),
			OldValue:    old,
			NewValue:    value,
			mutate:      func(m *world.Model) { merge.SetWorldField(m, field, value) },
		})
	}
}

func (b *batch) divergence() {
	n := b.d.DivergenceDelta
	if n <= 0 {
		return
	}
	cur := merge.CurrentDivergence(b.snap)
	now := b.e.now
	b.add(&Proposal{
		Category:    CategoryDivergence,
		Description: fmt.Sprintf("Divergence +%d (%d → %d)", n, cur, cur+n),
		OldValue:    cur,
		NewValue:    cur + n,
		mutate:      func(m *world.Model) { merge.AddDivergence(m, n, now()) },
	})
}

func (b *batch) date() {
	date := b.d.InWorldDate
	if date == "" {
		return
	}
	old := world.String(b.snap.WorldState, "in_world_date")
	prev := old
	if prev == "" {
		prev = "?"
	}
	var oldValue any
	if old != "" {
		oldValue = old
	}
	b.add(&Proposal{
		Category:    CategoryDate,
		Description: fmt.Sprintf("Date: %s → %s", prev, date),
		OldValue:    oldValue,
		NewValue:    date,
		mutate:      func(m *world.Model) { merge.SetDate(m, date) },
	})
}

func (b *batch) newCharacters() {
	seen := make(map[string]bool)
	for _, nc := range b.d.NewNPCs {
		key := world.CharacterKey(nc.DisplayName)
		if key == world.CharacterPrefix || seen[key] {
			continue
		}
		seen[key] = true
		if b.snap.Character(key) != nil {
			continue
		}
		nc.Aliases = slices.Clone(nc.Aliases)

		desc := "New NPC: " + nc.DisplayName
		if nc.Alias != "" {
			desc += " (" + nc.Alias + ")"
		}
		faction := nc.Faction
		if faction == "" {
			faction = "unknown faction"
		}
		b.add(&Proposal{
			Category:    CategoryNewNPC,
			Target:      key,
			Description: desc + " — " + faction,
			NewValue:    nc,
			mutate:      func(m *world.Model) { merge.CreateCharacter(m, nc) },
		})
	}
}
