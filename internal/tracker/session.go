// Package tracker holds the session object that drives one world tracking
// session: it owns the live world model, the review queue, the extractor and
// the persistence scheduler, and switches all of them together when the
// conversation context changes.
//
// Oracle and store calls are made without holding session locks. Results
// produced for a context that is no longer active are discarded.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/internal/normalize"
	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/internal/persist"
	"github.com/MrWong99/worldtracker/internal/proposal"
	"github.com/MrWong99/worldtracker/internal/render"
	"github.com/MrWong99/worldtracker/internal/resilience"
	"github.com/MrWong99/worldtracker/internal/resolve"
	"github.com/MrWong99/worldtracker/internal/review"
	"github.com/MrWong99/worldtracker/pkg/docstore"
	"github.com/MrWong99/worldtracker/pkg/world"
)

var (
	// ErrNoStore is returned by operations that need a linked document set
	// when none is linked.
	ErrNoStore = errors.New("tracker: no store linked")

	// ErrNoContext is returned before the first context switch.
	ErrNoContext = errors.New("tracker: no active context")

	// ErrInvalidDocument is returned for a manual edit that is not a JSON
	// object.
	ErrInvalidDocument = errors.New("tracker: invalid document")
)

// Status lines published by the session itself. The persistence scheduler
// and the review queue publish their own.
const (
	StatusLoadedCached = "loaded (cached)"
	StatusNoStore      = "no store linked"
	StatusSynced       = "synced ✓"
	StatusCreated      = "store created ✓"
	statusSyncFailed   = "sync failed: "
	statusExtractError = "extraction error: "
)

// Update is published to the [Sink] whenever the session status changes.
type Update struct {
	ContextID string `json:"context_id"`
	StoreID   string `json:"store_id,omitempty"`
	Status    string `json:"status"`
	Pending   int    `json:"pending"`
}

// Sink receives session updates. Publish must not block for long and must
// not call back into the session.
type Sink interface {
	Publish(u Update)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(u Update)

// Publish calls f.
func (f SinkFunc) Publish(u Update) { f(u) }

// Config holds the dependencies and settings of a [Session]. Store, Mirror,
// Bindings, Metrics and Sink are optional.
type Config struct {
	Store    docstore.Store
	Oracle   extract.Oracle
	Resolver resolve.Resolver
	Mirror   persist.Mirror
	Bindings persist.Bindings
	Metrics  *observe.Metrics
	Sink     Sink

	// Defaults seed the documents of newly created stores.
	Defaults world.Defaults

	// BlockTag is the tag of embedded narrative blocks.
	BlockTag string

	// Render bounds character selection for prompt injection.
	Render render.Options

	// Freshness is how long a mirrored set is preferred over a fetch.
	Freshness time.Duration

	// Debounce is the delay between the last change and the push.
	Debounce time.Duration

	// Retry and Breaker guard pushes to the store.
	Retry   resilience.RetryPolicy
	Breaker *resilience.CircuitBreaker

	// Now and NewID replace the clock and proposal id source in tests.
	Now   func() time.Time
	NewID func() string
}

// Session is the context object of one tracking session. All methods are
// safe for concurrent use.
type Session struct {
	store     docstore.Store
	mirror    persist.Mirror
	bindings  persist.Bindings
	metrics   *observe.Metrics
	sink      Sink
	defaults  world.Defaults
	freshness time.Duration
	now       func() time.Time

	engine    *merge.Engine
	queue     *review.Queue
	extractor *extract.Extractor
	expander  *proposal.Expander
	sched     *persist.Scheduler

	// opMu serialises everything that touches the live model or switches
	// context. It is never held across oracle or store calls.
	opMu sync.Mutex

	mu        sync.Mutex
	contextID string
	storeID   string
	status    string
	renderOpt render.Options
}

// New creates a Session. Call [Session.SwitchContext] before anything else.
func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = persist.DefaultFreshness
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.Alias{}
	}

	s := &Session{
		store:     cfg.Store,
		mirror:    cfg.Mirror,
		bindings:  cfg.Bindings,
		metrics:   cfg.Metrics,
		sink:      cfg.Sink,
		defaults:  cfg.Defaults,
		renderOpt: cfg.Render,
		freshness: cfg.Freshness,
		now:       cfg.Now,
		engine:    merge.NewEngine(),
	}

	normOpts := []normalize.Option{normalize.WithClock(cfg.Now)}
	if cfg.BlockTag != "" {
		normOpts = append(normOpts, normalize.WithBlockTag(cfg.BlockTag))
	}
	s.extractor = extract.New(cfg.Oracle, normalize.New(cfg.Resolver, normOpts...), extract.WithMetrics(cfg.Metrics))

	expOpts := []proposal.Option{proposal.WithClock(cfg.Now)}
	if cfg.NewID != nil {
		expOpts = append(expOpts, proposal.WithIDFunc(cfg.NewID))
	}
	s.expander = proposal.NewExpander(cfg.Resolver, expOpts...)
	s.queue = review.New(s.engine, review.WithOnChange(s.onQueueChange))

	schedOpts := []persist.Option{
		persist.WithDelay(cfg.Debounce),
		persist.WithStatus(s.publish),
		persist.WithMetrics(cfg.Metrics),
		persist.WithClock(cfg.Now),
	}
	if cfg.Mirror != nil {
		schedOpts = append(schedOpts, persist.WithMirror(cfg.Mirror))
	}
	if cfg.Retry.MaxAttempts > 0 {
		schedOpts = append(schedOpts, persist.WithRetry(cfg.Retry))
	}
	if cfg.Breaker != nil {
		schedOpts = append(schedOpts, persist.WithBreaker(cfg.Breaker))
	}
	s.sched = persist.NewScheduler(cfg.Store, s.engine, schedOpts...)
	return s
}

// ContextID returns the active context.
func (s *Session) ContextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextID
}

// StoreID returns the document set linked to the active context, or "".
func (s *Session) StoreID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeID
}

// Status returns the last published status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetRender replaces the character selection limits used by
// [Session.Injection] and [Session.Summary].
func (s *Session) SetRender(opts render.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderOpt = opts
}

func (s *Session) renderOptions() render.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderOpt
}

// Snapshot returns a deep copy of the live world model.
func (s *Session) Snapshot() *world.Model { return s.engine.Snapshot() }

// SwitchContext makes contextID the active context. The pending queue, the
// duplicate-text memory and the live model are reset. The model is then
// loaded from a fresh mirror entry if one exists, otherwise from the linked
// store. Binding lookups fall back to the last used set.
func (s *Session) SwitchContext(ctx context.Context, contextID string) error {
	s.opMu.Lock()
	s.mu.Lock()
	s.contextID, s.storeID = contextID, ""
	s.mu.Unlock()
	s.queue.Reset(contextID)
	s.extractor.Reset()
	s.engine.Replace(nil)
	s.opMu.Unlock()

	log := observe.Logger(ctx).With("context", contextID)

	storeID := ""
	if s.bindings != nil {
		id, bound, err := s.bindings.Lookup(ctx, contextID)
		if err != nil {
			log.Warn("tracker: binding lookup failed", "err", err)
		}
		storeID = id
		if id != "" && !bound {
			log.Info("tracker: using last linked store", "store", id)
		}
	}

	if s.mirror != nil {
		e, ok, err := persist.LoadFresh(ctx, s.mirror, contextID, s.freshness, s.now())
		if err != nil {
			log.Warn("tracker: mirror load failed", "err", err)
		}
		if ok {
			if e.StoreID != "" {
				storeID = e.StoreID
			}
			if s.install(contextID, storeID, world.FromFiles(e.Files)) {
				s.publish(StatusLoadedCached)
			}
			return nil
		}
	}

	if storeID == "" || s.store == nil {
		s.publish(StatusNoStore)
		return nil
	}
	if !s.install(contextID, storeID, nil) {
		return nil
	}
	return s.Sync(ctx)
}

// Link binds the active context to the existing document set storeID and
// loads it.
func (s *Session) Link(ctx context.Context, storeID string) error {
	contextID := s.ContextID()
	if contextID == "" {
		return ErrNoContext
	}
	if s.bindings != nil {
		if err := s.bindings.Bind(ctx, contextID, storeID); err != nil {
			return fmt.Errorf("tracker: bind %q: %w", storeID, err)
		}
	}
	if !s.install(contextID, storeID, nil) {
		return nil
	}
	return s.Sync(ctx)
}

// Sync replaces the live model with the linked document set. A result that
// arrives after a context switch is discarded.
func (s *Session) Sync(ctx context.Context) (err error) {
	s.mu.Lock()
	contextID, storeID := s.contextID, s.storeID
	s.mu.Unlock()
	if storeID == "" || s.store == nil {
		return ErrNoStore
	}

	ctx, span := observe.StartSpan(ctx, "tracker.sync")
	start := time.Now()
	defer func() {
		s.metrics.RecordStore(ctx, "fetch", time.Since(start), err)
		observe.EndSpan(span, err)
	}()

	files, err := s.store.FetchAll(ctx, storeID)
	if err != nil {
		s.publish(statusSyncFailed + err.Error())
		return fmt.Errorf("tracker: sync %q: %w", storeID, err)
	}
	if !s.install(contextID, storeID, world.FromFiles(files)) {
		observe.Logger(ctx).Debug("tracker: discarding sync for inactive context", "context", contextID)
		return nil
	}
	if err := s.sched.Mirror(ctx, persist.Target{ContextID: contextID, StoreID: storeID}); err != nil {
		observe.Logger(ctx).Warn("tracker: mirror write failed", "err", err)
	}
	s.publish(StatusSynced)
	return nil
}

// CreateStore creates a new document set holding the default index, world
// state and arc ledger, binds the active context to it and makes it the live
// model. It returns the new set id.
func (s *Session) CreateStore(ctx context.Context, description string) (id string, err error) {
	contextID := s.ContextID()
	if contextID == "" {
		return "", ErrNoContext
	}
	if s.store == nil {
		return "", ErrNoStore
	}

	m, err := s.defaultModel(contextID)
	if err != nil {
		return "", err
	}
	files, err := m.Files()
	if err != nil {
		return "", fmt.Errorf("tracker: encode defaults: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "tracker.create")
	start := time.Now()
	defer func() {
		s.metrics.RecordStore(ctx, "create", time.Since(start), err)
		observe.EndSpan(span, err)
	}()

	id, err = s.store.Create(ctx, description, docstore.FromBytes(files))
	if err != nil {
		return "", fmt.Errorf("tracker: create store: %w", err)
	}
	if s.bindings != nil {
		if err := s.bindings.Bind(ctx, contextID, id); err != nil {
			observe.Logger(ctx).Warn("tracker: bind new store failed", "store", id, "err", err)
		}
	}
	if s.install(contextID, id, m) {
		if err := s.sched.Mirror(ctx, persist.Target{ContextID: contextID, StoreID: id}); err != nil {
			observe.Logger(ctx).Warn("tracker: mirror write failed", "err", err)
		}
		s.publish(StatusCreated)
	}
	return id, nil
}

func (s *Session) defaultModel(contextID string) (*world.Model, error) {
	m := world.New()
	var err error
	if m.Index, err = world.ToDocument(world.DefaultIndex(s.defaults, contextID, s.now())); err != nil {
		return nil, fmt.Errorf("tracker: default index: %w", err)
	}
	if m.WorldState, err = world.ToDocument(world.DefaultWorldState(s.defaults)); err != nil {
		return nil, fmt.Errorf("tracker: default world state: %w", err)
	}
	m.ArcEvents = world.DefaultArcEvents()
	return m, nil
}

// install makes storeID the linked set of contextID and, when m is non-nil,
// the live model. It reports false, changing nothing, when contextID is no
// longer active.
func (s *Session) install(contextID, storeID string, m *world.Model) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contextID != contextID {
		return false
	}
	s.storeID = storeID
	if m != nil {
		s.engine.Replace(m)
	}
	return true
}

func (s *Session) target() persist.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return persist.Target{ContextID: s.contextID, StoreID: s.storeID}
}

// Flush pushes every scheduled change now.
func (s *Session) Flush(ctx context.Context) error {
	return s.sched.Flush(ctx)
}

// Close flushes scheduled changes and stops the scheduler.
func (s *Session) Close(ctx context.Context) error {
	err := s.sched.Flush(ctx)
	s.sched.Stop()
	return err
}

// publish records line as the current status and forwards it to the sink.
func (s *Session) publish(line string) {
	s.mu.Lock()
	s.status = line
	u := Update{ContextID: s.contextID, StoreID: s.storeID, Status: line}
	s.mu.Unlock()
	u.Pending = s.queue.Len()

	slog.Debug("tracker: status", "context", u.ContextID, "status", line)
	if s.sink != nil {
		s.sink.Publish(u)
	}
}
