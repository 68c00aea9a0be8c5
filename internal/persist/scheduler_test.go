package persist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/worldtracker/internal/resilience"
	"github.com/MrWong99/worldtracker/pkg/docstore"
	storemock "github.com/MrWong99/worldtracker/pkg/docstore/mock"
)

// fakeSource serves a settable document set.
type fakeSource struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (f *fakeSource) set(date string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = map[string][]byte{"world_state.json": []byte(`{"in_world_date":"` + date + `"}`)}
}

func (f *fakeSource) Files() (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.files, nil
}

type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *statusLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *statusLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *storemock.Store, *fakeSource, *statusLog) {
	t.Helper()
	store := storemock.New()
	store.Seed("set-a", map[string][]byte{})
	store.Seed("set-b", map[string][]byte{})
	src := &fakeSource{}
	src.set("d0")
	log := &statusLog{}
	base := []Option{
		WithDelay(20 * time.Millisecond),
		WithRetry(resilience.RetryPolicy{MaxAttempts: 3, Sleep: noSleep}),
		WithStatus(log.add),
	}
	s := NewScheduler(store, src, append(base, opts...)...)
	t.Cleanup(s.Stop)
	return s, store, src, log
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var target = Target{ContextID: "chat-1", StoreID: "set-a"}

func TestSchedule_Debounces(t *testing.T) {
	t.Parallel()

	s, store, src, log := newTestScheduler(t)
	ctx := context.Background()
	for _, d := range []string{"d1", "d2", "d3"} {
		src.set(d)
		if err := s.Schedule(ctx, target); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Pending() {
		t.Fatal("no push pending after Schedule")
	}

	waitFor(t, func() bool { return store.CallCount("Patch") == 1 })
	time.Sleep(60 * time.Millisecond)
	if n := store.CallCount("Patch"); n != 1 {
		t.Errorf("Patch called %d times, want 1", n)
	}
	if got := string(store.Files("set-a")["world_state.json"]); got != `{"in_world_date":"d3"}` {
		t.Errorf("pushed %s, want the latest state", got)
	}
	waitFor(t, func() bool { return log.last() == StatusSaved })
	if s.Pending() {
		t.Error("push still pending after it ran")
	}
}

func TestFlushAndStop(t *testing.T) {
	t.Parallel()

	s, store, _, _ := newTestScheduler(t, WithDelay(time.Hour))
	ctx := context.Background()

	if err := s.Flush(ctx); err != nil || store.CallCount("Patch") != 0 {
		t.Fatalf("Flush with nothing pending: err %v, %d calls", err, store.CallCount("Patch"))
	}

	_ = s.Schedule(ctx, target)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if store.CallCount("Patch") != 1 || s.Pending() {
		t.Errorf("after Flush: %d calls, pending %v", store.CallCount("Patch"), s.Pending())
	}

	_ = s.Schedule(ctx, target)
	s.Stop()
	if err := s.Flush(ctx); err != nil || store.CallCount("Patch") != 1 {
		t.Errorf("Stop did not cancel the push: %d calls", store.CallCount("Patch"))
	}
}

func TestSchedule_TargetsAreIndependent(t *testing.T) {
	t.Parallel()

	s, store, src, _ := newTestScheduler(t, WithDelay(time.Hour))
	ctx := context.Background()

	src.set("old-chat")
	_ = s.Schedule(ctx, target)
	src.set("new-chat")
	_ = s.Schedule(ctx, Target{ContextID: "chat-2", StoreID: "set-b"})

	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := string(store.Files("set-a")["world_state.json"]); !strings.Contains(got, "old-chat") {
		t.Errorf("set-a got %s", got)
	}
	if got := string(store.Files("set-b")["world_state.json"]); !strings.Contains(got, "new-chat") {
		t.Errorf("set-b got %s", got)
	}
}

func TestPush_Retries(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("502 bad gateway")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "recovers", errs: []error{errBoom, errBoom}, wantCalls: 3},
		{name: "exhausted", errs: []error{errBoom, errBoom, errBoom}, wantCalls: 3, wantErr: true},
		{name: "not found is permanent", errs: []error{docstore.ErrNotFound}, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, store, _, log := newTestScheduler(t, WithDelay(time.Hour))
			store.PatchErrs = tt.errs
			_ = s.Schedule(context.Background(), target)
			err := s.Flush(context.Background())

			if (err != nil) != tt.wantErr {
				t.Fatalf("Flush err = %v, wantErr %v", err, tt.wantErr)
			}
			if n := store.CallCount("Patch"); n != tt.wantCalls {
				t.Errorf("Patch calls = %d, want %d", n, tt.wantCalls)
			}
			want := StatusSaved
			if tt.wantErr {
				want = "save failed: "
			}
			if !strings.HasPrefix(log.last(), want) {
				t.Errorf("last status = %q, want prefix %q", log.last(), want)
			}
		})
	}
}

func TestPush_OpenBreakerFailsFast(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errors.New("down") })

	s, store, _, _ := newTestScheduler(t, WithDelay(time.Hour), WithBreaker(cb))
	_ = s.Schedule(context.Background(), target)
	err := s.Flush(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if store.CallCount("Patch") != 0 {
		t.Error("store called through an open breaker")
	}
}

func TestSchedule_Mirrors(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mirror := NewMemoryMirror()
	s, store, src, _ := newTestScheduler(t, WithDelay(time.Hour), WithMirror(mirror), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	src.set("unlinked")
	if err := s.Schedule(ctx, Target{ContextID: "chat-9"}); err != nil {
		t.Fatal(err)
	}
	if s.Pending() {
		t.Error("push scheduled without a store id")
	}

	e, ok, err := LoadFresh(ctx, mirror, "chat-9", DefaultFreshness, now.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("LoadFresh = (%v, %v)", ok, err)
	}
	want := map[string][]byte{"world_state.json": []byte(`{"in_world_date":"unlinked"}`)}
	if diff := cmp.Diff(want, e.Files); diff != "" {
		t.Errorf("mirrored files (-want +got):\n%s", diff)
	}
	if _, ok, _ := LoadFresh(ctx, mirror, "chat-9", DefaultFreshness, now.Add(25*time.Hour)); ok {
		t.Error("stale mirror entry reported fresh")
	}

	src.err = errors.New("encode failed")
	if err := s.Schedule(ctx, target); err == nil {
		t.Error("Schedule ignored an encoding error")
	}
	if store.CallCount("Patch") != 0 {
		t.Error("unexpected push")
	}
}
