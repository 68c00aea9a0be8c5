package resolve_test

import (
	"testing"

	"github.com/MrWong99/worldtracker/internal/resolve"
	"github.com/MrWong99/worldtracker/pkg/world"
)

func testModel() *world.Model {
	m := world.New()
	m.Characters["npc_skitter"] = world.Document{"alias": "Skitter"}
	m.Characters["npc_lisa_wilbourn"] = world.Document{
		"display_name": "Lisa Wilbourn",
		"alias":        "Tattletale",
		"aliases":      []any{"Sarah Livsey"},
	}
	m.Characters["npc_taylor_hebert"] = world.Document{"display_name": "Taylor Hebert"}
	return m
}

func TestAlias_Resolve(t *testing.T) {
	t.Parallel()

	m := testModel()
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantOK  bool
	}{
		{name: "derived exact key", input: "skitter", wantKey: "npc_skitter", wantOK: true},
		{name: "derived key with spaces", input: "  Taylor Hebert ", wantKey: "npc_taylor_hebert", wantOK: true},
		{name: "input is key", input: "npc_lisa_wilbourn", wantKey: "npc_lisa_wilbourn", wantOK: true},
		{name: "input is filename", input: "npc_lisa_wilbourn.json", wantKey: "npc_lisa_wilbourn", wantOK: true},
		{name: "input contains alias", input: "Skitter the cape", wantKey: "npc_skitter", wantOK: true},
		{name: "alias contains input", input: "tattle", wantKey: "npc_lisa_wilbourn", wantOK: true},
		{name: "aliases list", input: "sarah livsey", wantKey: "npc_lisa_wilbourn", wantOK: true},
		{name: "case folded", input: "TATTLETALE", wantKey: "npc_lisa_wilbourn", wantOK: true},
		{name: "no match", input: "Armsmaster", wantOK: false},
		{name: "empty", input: "   ", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, ok := resolve.Alias{}.Resolve(m, tt.input)
			if ok != tt.wantOK || key != tt.wantKey {
				t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.input, key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}
}

func TestAlias_DeterministicOrder(t *testing.T) {
	t.Parallel()

	m := world.New()
	m.Characters["npc_b"] = world.Document{"alias": "Shadow Stalker"}
	m.Characters["npc_a"] = world.Document{"alias": "Stalker"}

	for range 20 {
		key, ok := resolve.Alias{}.Resolve(m, "stalker")
		if !ok || key != "npc_a" {
			t.Fatalf("Resolve = (%q, %v), want npc_a first by key order", key, ok)
		}
	}
}

func TestAlias_NilModel(t *testing.T) {
	t.Parallel()
	if _, ok := (resolve.Alias{}).Resolve(nil, "anyone"); ok {
		t.Error("nil model resolved a name")
	}
}

func TestPhonetic_Resolve(t *testing.T) {
	t.Parallel()

	m := testModel()
	p := resolve.NewPhonetic()

	key, ok := p.Resolve(m, "Taylor Hebbert")
	if !ok || key != "npc_taylor_hebert" {
		t.Errorf("Resolve(misspelled) = (%q, %v), want npc_taylor_hebert", key, ok)
	}
	if key, ok := p.Resolve(m, "Armsmaster"); ok {
		t.Errorf("Resolve(Armsmaster) = %q, want no match", key)
	}
	if key, ok := p.Resolve(m, "skitter"); !ok || key != "npc_skitter" {
		t.Errorf("exact key rule not applied: (%q, %v)", key, ok)
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	m := testModel()
	calls := 0
	fallback := resolve.Func(func(*world.Model, string) (string, bool) {
		calls++
		return "npc_fallback", true
	})
	chain := resolve.Chain{resolve.Alias{}, fallback}

	if key, _ := chain.Resolve(m, "Skitter"); key != "npc_skitter" {
		t.Errorf("chain first hit = %q, want npc_skitter", key)
	}
	if calls != 0 {
		t.Errorf("fallback called %d times after first resolver hit", calls)
	}
	if key, _ := chain.Resolve(m, "Armsmaster"); key != "npc_fallback" {
		t.Errorf("chain fallback = %q, want npc_fallback", key)
	}
}
