package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mirrorStore interface {
	Mirror
	Bindings
}

func mirrors(t *testing.T) map[string]mirrorStore {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tick := time.Unix(0, 0)
	db.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return map[string]mirrorStore{
		"memory": NewMemoryMirror(),
		"sqlite": db,
	}
}

func TestMirror_RoundTrip(t *testing.T) {
	t.Parallel()

	for name, m := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := m.Load(ctx, "chat-1"); ok || err != nil {
				t.Fatalf("Load of empty mirror = (%v, %v)", ok, err)
			}

			saved := time.UnixMilli(1_700_000_000_000)
			in := Entry{
				StoreID: "gist-1",
				Files: map[string][]byte{
					"world_state.json": []byte(`{"arc":"2"}`),
					"npc_lung.json":    []byte(`{"display_name":"Lung"}`),
				},
				SavedAt: saved,
			}
			if err := m.Save(ctx, "chat-1", in); err != nil {
				t.Fatal(err)
			}
			in.Files["world_state.json"] = []byte("mutated after save")

			got, ok, err := m.Load(ctx, "chat-1")
			if err != nil || !ok {
				t.Fatalf("Load = (%v, %v)", ok, err)
			}
			if got.StoreID != "gist-1" || !got.SavedAt.Equal(saved) {
				t.Errorf("entry = %+v", got)
			}
			want := map[string][]byte{
				"world_state.json": []byte(`{"arc":"2"}`),
				"npc_lung.json":    []byte(`{"display_name":"Lung"}`),
			}
			if diff := cmp.Diff(want, got.Files); diff != "" {
				t.Errorf("files (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBindings_LastUsedFallback(t *testing.T) {
	t.Parallel()

	for name, b := range mirrors(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if id, bound, err := b.Lookup(ctx, "chat-1"); id != "" || bound || err != nil {
				t.Fatalf("empty Lookup = (%q, %v, %v)", id, bound, err)
			}

			_ = b.Bind(ctx, "chat-1", "gist-1")
			_ = b.Bind(ctx, "chat-2", "gist-2")

			tests := []struct {
				ctxID     string
				wantID    string
				wantBound bool
			}{
				{"chat-1", "gist-1", true},
				{"chat-2", "gist-2", true},
				{"chat-3", "gist-2", false},
			}
			for _, tt := range tests {
				id, bound, err := b.Lookup(ctx, tt.ctxID)
				if err != nil || id != tt.wantID || bound != tt.wantBound {
					t.Errorf("Lookup(%q) = (%q, %v, %v), want (%q, %v)", tt.ctxID, id, bound, err, tt.wantID, tt.wantBound)
				}
			}

			_ = b.Bind(ctx, "chat-1", "gist-1b")
			if id, _, _ := b.Lookup(ctx, "chat-3"); id != "gist-1b" {
				t.Errorf("last used after rebind = %q, want gist-1b", id)
			}
		})
	}
}

func TestEntry_Fresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		saved time.Time
		want  bool
	}{
		{"zero", time.Time{}, false},
		{"recent", now.Add(-time.Hour), true},
		{"boundary", now.Add(-DefaultFreshness), true},
		{"stale", now.Add(-DefaultFreshness - time.Second), false},
	}
	for _, tt := range tests {
		if got := (Entry{SavedAt: tt.saved}).Fresh(DefaultFreshness, now); got != tt.want {
			t.Errorf("%s: Fresh = %v, want %v", tt.name, got, tt.want)
		}
	}
}
