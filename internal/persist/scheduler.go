// Package persist keeps the world model in step with the remote document
// store and the local mirror.
//
// Every committed change is mirrored locally right away and pushed to the
// store after a trailing debounce: a burst of changes results in one push,
// measured from the last change. Pushes are retried with exponential backoff
// behind a circuit breaker. Failures never lose data; the mirror keeps the
// latest state and the next change schedules another push.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/internal/resilience"
	"github.com/MrWong99/worldtracker/pkg/docstore"
)

// DefaultDelay is the debounce between the last change and the push.
const DefaultDelay = 8 * time.Second

// Status lines reported through [WithStatus].
const (
	StatusSaved   = "saved ✓"
	StatusSaving  = "saving…"
	statusFailure = "save failed: "
)

// Source supplies the encoded document set to push. [*merge.Engine]
// implements it.
type Source interface {
	Files() (map[string][]byte, error)
}

// Target identifies where a push goes.
type Target struct {
	ContextID string
	StoreID   string
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithDelay sets the debounce delay. Non-positive values keep the default.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithRetry sets the push retry policy.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = p }
}

// WithBreaker guards pushes with cb. Open breakers fail pushes fast without
// retrying.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Scheduler) { s.breaker = cb }
}

// WithMirror mirrors every scheduled state to m synchronously.
func WithMirror(m Mirror) Option {
	return func(s *Scheduler) { s.mirror = m }
}

// WithStatus registers fn to receive status lines.
func WithStatus(fn func(string)) Option {
	return func(s *Scheduler) { s.status = fn }
}

// WithMetrics records store latency and failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces time.Now for mirror timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler debounces pushes of a [Source] to a [docstore.Store]. Each
// target has its own timer, so a context switch never redirects or drops the
// previous context's pending push. All methods are safe for concurrent use.
type Scheduler struct {
	store   docstore.Store
	source  Source
	mirror  Mirror
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	delay   time.Duration
	status  func(string)
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	gen     uint64
	pending map[Target]*pendingPush
	pushMu  sync.Mutex
}

type pendingPush struct {
	gen   uint64
	files map[string][]byte
	timer *time.Timer
}

// NewScheduler creates a Scheduler pushing source to store.
func NewScheduler(store docstore.Store, source Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		source:  source,
		delay:   DefaultDelay,
		retry:   resilience.RetryPolicy{Name: "store push", MaxAttempts: 3},
		now:     time.Now,
		pending: make(map[Target]*pendingPush),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule captures the current state, mirrors it for t.ContextID and
// (re)arms the push timer of t. A pending push for t is replaced, never
// stacked. Without a store or store id only the mirror is written.
func (s *Scheduler) Schedule(ctx context.Context, t Target) error {
	files, err := s.source.Files()
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	if err := s.save(ctx, t, files); err != nil {
		slog.Warn("persist: mirror write failed", "context", t.ContextID, "err", err)
	}
	if t.StoreID == "" || s.store == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pending[t]; p != nil {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending[t] = &pendingPush{
		gen:   gen,
		files: files,
		timer: time.AfterFunc(s.delay, func() { s.fire(t, gen) }),
	}
	return nil
}

// Mirror writes the current state to the mirror for t without scheduling a
// push. It is a no-op without a mirror.
func (s *Scheduler) Mirror(ctx context.Context, t Target) error {
	if s.mirror == nil {
		return nil
	}
	files, err := s.source.Files()
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	return s.save(ctx, t, files)
}

func (s *Scheduler) save(ctx context.Context, t Target, files map[string][]byte) error {
	if s.mirror == nil || t.ContextID == "" {
		return nil
	}
	return s.mirror.Save(ctx, t.ContextID, Entry{StoreID: t.StoreID, Files: files, SavedAt: s.now()})
}

// Pending reports whether any push is scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Flush cancels all timers and pushes every pending state now.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[Target]*pendingPush)
	for _, p := range batch {
		p.timer.Stop()
	}
	s.mu.Unlock()

	var errs []error
	for t, p := range batch {
		if err := s.push(ctx, t, p.files); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop cancels all pending pushes without running them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, t)
	}
}

func (s *Scheduler) fire(t Target, gen uint64) {
	s.mu.Lock()
	p := s.pending[t]
	if p == nil || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, t)
	s.mu.Unlock()

	if err := s.push(context.Background(), t, p.files); err != nil {
		slog.Warn("persist: push failed", "context", t.ContextID, "store", t.StoreID, "err", err)
	}
}

// push writes files to the store. Pushes never overlap.
func (s *Scheduler) push(ctx context.Context, t Target, files map[string][]byte) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	payload := docstore.FromBytes(files)
	ctx, span := observe.StartSpan(ctx, "persist.push")
	start := time.Now()
	s.report(StatusSaving)
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		err := s.patch(ctx, t.StoreID, payload)
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, docstore.ErrNotFound) {
			return resilience.Permanent(err)
		}
		return err
	})
	s.metrics.RecordStore(ctx, "push", time.Since(start), err)
	observe.EndSpan(span, err)

	if err != nil {
		s.report(statusFailure + err.Error())
		return err
	}
	s.report(StatusSaved)
	return nil
}

func (s *Scheduler) patch(ctx context.Context, id string, files map[string]docstore.File) error {
	if s.breaker == nil {
		return s.store.Patch(ctx, id, files)
	}
	return s.breaker.Execute(func() error { return s.store.Patch(ctx, id, files) })
}

func (s *Scheduler) report(line string) {
	if s.status != nil {
		s.status(line)
	}
}
