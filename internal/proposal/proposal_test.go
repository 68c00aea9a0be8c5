package proposal_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"

	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/internal/proposal"
	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot() *world.Model {
	return world.FromFiles(map[string][]byte{
		world.IndexFile: []byte(`{"active_npcs": ["npc_skitter", "npc_lisa_wilbourn"], "divergence_threshold": 15}`),
		world.WorldStateFile: []byte(`{"arc": "2", "in_world_date": "2011-04-10", "territorial_control": {"docks": "ABB"},
			"divergence": {"rating": 12, "threshold": 15, "timeline_reliable": true, "logged": []}}`),
		world.ArcEventsFile: []byte(`{"arc_2": {"lung_fight": {"summary": "Skitter fights Lung", "player_status": "pending"}}}`),
		"npc_skitter.json": []byte(`{"display_name": "Taylor Hebert", "alias": "Skitter", "aliases": ["Skitter"],
			"current_state": {"relationship_to_user_character": "stranger", "emotional_state": "calm"}}`),
		"npc_lisa_wilbourn.json": []byte(`{"display_name": "Lisa Wilbourn", "alias": "Tattletale"}`),
	})
}

func newExpander() *proposal.Expander {
	var n atomic.Int64
	return proposal.NewExpander(nil,
		proposal.WithIDFunc(func() string { return fmt.Sprintf("p%d", n.Add(1)) }),
		proposal.WithClock(func() time.Time { return fixedNow }),
	)
}

func fullDelta() *delta.Delta {
	return &delta.Delta{
		NPCKnowledge: map[string]map[string]any{
			"skitter": {
				"knowledge.visibility_gates.identity": true,
				"knowledge.specific_intel":            []any{"Lisa knows her name"},
			},
			"npc_brian_laborn": {"knowledge.specific_intel": []any{"knows Skitter"}},
		},
		NPCRelationship: map[string]string{
			"npc_skitter": "wary ally",
			"Tattletale":  "friend",
			"Armsmaster":  "hostile",
		},
		NPCCurrentState: map[string]delta.CurrentState{
			"npc_skitter": {EmotionalState: "tense", PhysicalState: "bruised"},
		},
		NPCAppearance: map[string]map[string]string{
			"npc_lisa_wilbourn": {"hair": "blonde", "eyes": "green"},
		},
		NPCAliases: map[string]delta.AliasUpdate{
			"npc_skitter":       {Alias: "Weaver", Aliases: []string{"Skitter", "Weaver"}},
			"npc_lisa_wilbourn": {Alias: "Tattletale"},
		},
		ArcEvents: map[string]delta.EventStatus{
			"taylor_met_the_undersiders": delta.StatusFiredCanon,
			"lung_fight":                 delta.StatusFiredAltered,
		},
		WorldState: map[string]any{
			"territorial_control": map[string]any{"docks": "Undersiders"},
			"active_situations":   []any{"Lung in custody <PRT>"},
		},
		DivergenceDelta: 5,
		InWorldDate:     "2011-04-12",
		NewNPCs: []delta.NewCharacter{
			{DisplayName: "Brian Laborn", Alias: "Grue", Faction: "Undersiders"},
			{DisplayName: "Lisa Wilbourn"},
			{DisplayName: "Alec", Alias: "Regent"},
			{DisplayName: "Brian  Laborn"},
		},
	}
}

func TestExpand_Descriptions(t *testing.T) {
	t.Parallel()

	props := newExpander().Expand(fullDelta(), snapshot(), "chat-1")

	var buf bytes.Buffer
	for _, p := range props {
		fmt.Fprintf(&buf, "%s\t%s\t%s\n", p.Category, p.Target, p.Description)
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "descriptions", buf.Bytes())
}

func TestExpand_Metadata(t *testing.T) {
	t.Parallel()

	props := newExpander().Expand(fullDelta(), snapshot(), "chat-1")
	if len(props) != 16 {
		t.Fatalf("got %d proposals, want 16", len(props))
	}
	seen := make(map[string]bool)
	for _, p := range props {
		if p.ContextID != "chat-1" {
			t.Errorf("%s: ContextID = %q", p.ID, p.ContextID)
		}
		if seen[p.ID] {
			t.Errorf("duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}

	byDesc := func(prefix string) *proposal.Proposal {
		for _, p := range props {
			if strings.HasPrefix(p.Description, prefix) {
				return p
			}
		}
		t.Fatalf("no proposal starting with %q", prefix)
		return nil
	}
	if p := byDesc("Taylor Hebert: relationship"); p.OldValue != "stranger" || p.NewValue != "wary ally" {
		t.Errorf("relationship snapshot = (%v, %v)", p.OldValue, p.NewValue)
	}
	if p := byDesc("Lisa Wilbourn: relationship"); p.OldValue != nil {
		t.Errorf("relationship without prior value: OldValue = %v", p.OldValue)
	}
	if p := byDesc("Divergence"); p.OldValue != 12 || p.NewValue != 17 {
		t.Errorf("divergence snapshot = (%v, %v)", p.OldValue, p.NewValue)
	}
	if p := byDesc(`Arc event: "lung fight"`); p.OldValue != "pending" {
		t.Errorf("arc event OldValue = %v", p.OldValue)
	}
	if p := byDesc(`Arc event: "taylor`); p.OldValue != nil {
		t.Errorf("unknown arc event OldValue = %v", p.OldValue)
	}
}

func TestExpand_EmptyAndNil(t *testing.T) {
	t.Parallel()

	e := newExpander()
	if got := e.Expand(nil, snapshot(), "c"); got != nil {
		t.Errorf("Expand(nil) = %v", got)
	}
	if got := e.Expand(&delta.Delta{}, snapshot(), "c"); got != nil {
		t.Errorf("Expand(empty) = %v", got)
	}
	got := e.Expand(&delta.Delta{InWorldDate: "2011-01-01"}, nil, "c")
	if len(got) != 1 || got[0].Description != "Date: ? → 2011-01-01" {
		t.Errorf("Expand without snapshot = %v", got)
	}
	// An alias update that changes nothing yields no proposal.
	got = e.Expand(&delta.Delta{NPCAliases: map[string]delta.AliasUpdate{
		"npc_skitter": {Alias: "Skitter", Aliases: []string{"Skitter"}},
	}}, snapshot(), "c")
	if len(got) != 0 {
		t.Errorf("no-op alias update produced %d proposals", len(got))
	}
}

func TestExpand_KnowledgeMergesReferences(t *testing.T) {
	t.Parallel()

	d := &delta.Delta{NPCKnowledge: map[string]map[string]any{
		"npc_skitter": {"knowledge.a": "from key", "knowledge.shared": "from key"},
		"Skitter":     {"knowledge.b": "from alias", "knowledge.shared": "from alias"},
	}}
	props := newExpander().Expand(d, snapshot(), "c")

	got := make(map[string]any)
	for _, p := range props {
		if p.Target != "npc_skitter" {
			t.Errorf("proposal %s targets %q", p.ID, p.Target)
		}
		got[strings.TrimPrefix(p.Description, "Taylor Hebert: knowledge — ")] = p.NewValue
	}
	want := map[string]any{
		`knowledge → a → "from key"`:        "from key",
		`knowledge → b → "from alias"`:      "from alias",
		`knowledge → shared → "from alias"`: "from alias",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("knowledge proposals mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_SnapshotUntouched(t *testing.T) {
	t.Parallel()

	snap := snapshot()
	before, err := snap.Files()
	if err != nil {
		t.Fatal(err)
	}
	d := fullDelta()
	props := newExpander().Expand(d, snap, "c")

	// Mutating the delta after expansion must not leak into proposals.
	d.WorldState["territorial_control"].(map[string]any)["docks"] = "Empire 88"
	d.NPCAliases["npc_skitter"].Aliases[1] = "mutated"

	after, _ := snap.Files()
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("expansion mutated the snapshot (-before +after):\n%s", diff)
	}

	m := snapshot()
	for _, p := range props {
		p.Apply(m)
	}
	if got := world.Object(m.WorldState, "territorial_control")["docks"]; got != "Undersiders" {
		t.Errorf("docks = %v, want value captured at expansion", got)
	}
	if got := world.Strings(m.Character("npc_skitter"), "aliases"); !cmp.Equal(got, []string{"Skitter", "Weaver"}) {
		t.Errorf("aliases = %v", got)
	}
}

// Applying the proposals of a single-category delta must leave the model in
// the same state as calling the merge rule directly.
func TestExpand_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		d      *delta.Delta
		manual func(m *world.Model)
	}{
		{
			name: "knowledge",
			d:    &delta.Delta{NPCKnowledge: map[string]map[string]any{"npc_skitter": {"knowledge.visibility_gates.identity": false}}},
			manual: func(m *world.Model) {
				merge.SetKnowledge(m, "npc_skitter", "knowledge.visibility_gates.identity", false)
			},
		},
		{
			name:   "relationship",
			d:      &delta.Delta{NPCRelationship: map[string]string{"Skitter": "ally"}},
			manual: func(m *world.Model) { merge.SetRelationship(m, "npc_skitter", "ally") },
		},
		{
			name: "current state",
			d:    &delta.Delta{NPCCurrentState: map[string]delta.CurrentState{"npc_skitter": {PhysicalState: "hurt"}}},
			manual: func(m *world.Model) {
				merge.MergeCurrentState(m, "npc_skitter", delta.CurrentState{PhysicalState: "hurt"})
			},
		},
		{
			name: "appearance",
			d:    &delta.Delta{NPCAppearance: map[string]map[string]string{"npc_skitter": {"costume": "black silk"}}},
			manual: func(m *world.Model) {
				merge.MergeAppearance(m, "npc_skitter", map[string]string{"costume": "black silk"})
			},
		},
		{
			name: "aliases",
			d:    &delta.Delta{NPCAliases: map[string]delta.AliasUpdate{"npc_skitter": {Alias: "Weaver"}}},
			manual: func(m *world.Model) {
				merge.UpdateAliases(m, "npc_skitter", delta.AliasUpdate{Alias: "Weaver"})
			},
		},
		{
			name: "arc events",
			d: &delta.Delta{ArcEvents: map[string]delta.EventStatus{
				"lung_fight": delta.StatusSkipped, "nonexistent": delta.StatusFiredCanon,
			}},
			manual: func(m *world.Model) { merge.SetArcEventStatus(m, "lung_fight", delta.StatusSkipped) },
		},
		{
			name:   "world state",
			d:      &delta.Delta{WorldState: map[string]any{"chapter": "2.3"}},
			manual: func(m *world.Model) { merge.SetWorldField(m, "chapter", "2.3") },
		},
		{
			name:   "divergence",
			d:      &delta.Delta{DivergenceDelta: 5},
			manual: func(m *world.Model) { merge.AddDivergence(m, 5, fixedNow) },
		},
		{
			name:   "date",
			d:      &delta.Delta{InWorldDate: "2011-04-12"},
			manual: func(m *world.Model) { merge.SetDate(m, "2011-04-12") },
		},
		{
			name: "new character",
			d:    &delta.Delta{NewNPCs: []delta.NewCharacter{{DisplayName: "Rachel Lindt", Alias: "Bitch"}}},
			manual: func(m *world.Model) {
				merge.CreateCharacter(m, delta.NewCharacter{DisplayName: "Rachel Lindt", Alias: "Bitch"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := snapshot()
			for _, p := range newExpander().Expand(tt.d, got.Clone(), "c") {
				p.Apply(got)
			}
			want := snapshot()
			tt.manual(want)

			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("model mismatch (-manual +proposals):\n%s", diff)
			}
		})
	}
}

func TestExpandImport(t *testing.T) {
	t.Parallel()

	e := newExpander()
	snap := snapshot()

	t.Run("new character", func(t *testing.T) {
		t.Parallel()
		p, err := e.ExpandImport("downloads/brian.json",
			[]byte(`{"display_name": "Brian Laborn", "alias": "Grue", "faction": "Undersiders", "power": {"summary": "darkness"}}`),
			snap, "c")
		if err != nil {
			t.Fatal(err)
		}
		if p.Target != "npc_brian_laborn.json" || p.Description != "Import NPC: Brian Laborn / Grue — Undersiders" {
			t.Errorf("got (%q, %q)", p.Target, p.Description)
		}
		if !p.Expandable || !strings.Contains(p.Preview, "Power:          darkness") {
			t.Errorf("preview = %q", p.Preview)
		}

		m := snapshot()
		p.Apply(m)
		if world.String(m.Character("npc_brian_laborn"), "alias") != "Grue" {
			t.Error("import not applied")
		}
		if !cmp.Equal(world.Strings(m.Index, "active_npcs"), []string{"npc_skitter", "npc_lisa_wilbourn", "npc_brian_laborn"}) {
			t.Errorf("active_npcs = %v", m.Index["active_npcs"])
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()
		p, err := e.ExpandImport("ws.json", []byte(`{"arc": 3, "in_world_date": "2011-05-01", "chapter": "3.1",
			"divergence": {"rating": 4, "threshold": 15}, "active_situations": ["a", {"b": 1}]}`), snap, "c")
		if err != nil {
			t.Fatal(err)
		}
		if p.Description != "Import world_state.json — Arc 3, 2011-05-01 (⚠ will overwrite)" {
			t.Errorf("Description = %q", p.Description)
		}
		wantPreview := "Date:  2011-05-01\nArc:   3 ch.3.1\nDiv:   4/15\nActive situations (2):\n  • a\n  • {\"b\":1}"
		if diff := cmp.Diff(wantPreview, p.Preview); diff != "" {
			t.Errorf("preview mismatch (-want +got):\n%s", diff)
		}
		if p.OldValue == nil {
			t.Error("overwrite carries no snapshot of the replaced file")
		}
	})

	t.Run("arc ledger", func(t *testing.T) {
		t.Parallel()
		p, err := e.ExpandImport("arcs.json", []byte(`{"arc_1": {"a": {}, "b": {}}, "arc_2": {"c": {}}}`), world.New(), "c")
		if err != nil {
			t.Fatal(err)
		}
		if p.Description != "Import arc_events.json — 2 arcs (arc_1, arc_2)" {
			t.Errorf("Description = %q", p.Description)
		}
		if p.Preview != "Arcs present: arc_1, arc_2\n  arc_1: 2 events\n  arc_2: 1 event" {
			t.Errorf("Preview = %q", p.Preview)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		p, err := e.ExpandImport(`C:\notes\misc.json`, []byte(`{"hello": "world"}`), snap, "c")
		if err != nil {
			t.Fatal(err)
		}
		if p.Target != "misc.json" {
			t.Errorf("Target = %q", p.Target)
		}
		if !strings.Contains(p.Description, "type unknown") {
			t.Errorf("Description = %q", p.Description)
		}
		m := snapshot()
		p.Apply(m)
		if !m.HasFile("misc.json") {
			t.Error("unknown file not stored")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{`not json`, `[1, 2]`, `null`} {
			if _, err := e.ExpandImport("x.json", []byte(raw), snap, "c"); !errors.Is(err, proposal.ErrInvalidImport) {
				t.Errorf("ExpandImport(%s) err = %v, want ErrInvalidImport", raw, err)
			}
		}
	})
}

func TestApply_NilSafe(t *testing.T) {
	t.Parallel()

	var p *proposal.Proposal
	p.Apply(world.New())
	(&proposal.Proposal{}).Apply(world.New())
}
