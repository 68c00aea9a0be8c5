package delta_test

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/worldtracker/pkg/delta"
)

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		delta *delta.Delta
		want  bool
	}{
		{name: "nil", delta: nil, want: true},
		{name: "zero value", delta: &delta.Delta{}, want: true},
		{name: "zero divergence and empty collections", delta: &delta.Delta{
			DivergenceDelta: 0,
			WorldState:      map[string]any{},
			NewNPCs:         []delta.NewCharacter{},
			ArcEvents:       map[string]delta.EventStatus{},
		}, want: true},
		{name: "divergence", delta: &delta.Delta{DivergenceDelta: 1}, want: false},
		{name: "date", delta: &delta.Delta{InWorldDate: "2011-04-12"}, want: false},
		{name: "relationship", delta: &delta.Delta{NPCRelationship: map[string]string{"npc_a": "ally"}}, want: false},
		{name: "current state entry with no fields", delta: &delta.Delta{
			NPCCurrentState: map[string]delta.CurrentState{"npc_a": {}},
		}, want: false},
		{name: "new npc", delta: &delta.Delta{NewNPCs: []delta.NewCharacter{{DisplayName: "Lisa"}}}, want: false},
		{name: "appearance", delta: &delta.Delta{NPCAppearance: map[string]map[string]string{"npc_a": {"hair": "blond"}}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.delta.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventStatusValid(t *testing.T) {
	t.Parallel()
	for _, s := range []delta.EventStatus{"pending", "fired-canon", "fired-altered", "skipped"} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false, want true", s)
		}
	}
	for _, s := range []delta.EventStatus{"", "fired", "FIRED-CANON"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true, want false", s)
		}
	}
}

func TestMergeCurrentState(t *testing.T) {
	t.Parallel()

	var d delta.Delta
	d.MergeCurrentState("npc_a", delta.CurrentState{})
	if d.NPCCurrentState != nil {
		t.Fatal("empty merge allocated a map")
	}
	d.MergeCurrentState("npc_a", delta.CurrentState{EmotionalState: "angry"})
	d.MergeCurrentState("npc_a", delta.CurrentState{PhysicalState: "bruised"})
	got := d.NPCCurrentState["npc_a"]
	if got.EmotionalState != "angry" || got.PhysicalState != "bruised" {
		t.Errorf("merged state = %+v", got)
	}
	if n := len(got.Fields()); n != 2 {
		t.Errorf("Fields() returned %d entries, want 2", n)
	}
}

func TestWireShape(t *testing.T) {
	t.Parallel()

	d := delta.Delta{DivergenceDelta: 2}
	d.SetArcEvent("lung_fight", delta.StatusFiredAltered)
	d.SetKnowledge("npc_a", "knowledge.specific_intel", []any{"x"})

	raw, err := json.Marshal(&d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"npc_knowledge":{"npc_a":{"knowledge.specific_intel":["x"]}},"arc_events":{"lung_fight":"fired-altered"},"divergence_delta":2}`
	if string(raw) != want {
		t.Errorf("wire shape:\n got %s\nwant %s", raw, want)
	}
	if !d.HasKnowledge("npc_a", "knowledge.specific_intel") || d.HasKnowledge("npc_b", "x") {
		t.Error("HasKnowledge mismatch")
	}
}
