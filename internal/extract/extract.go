// Package extract turns narrative events into canonical deltas.
//
// A narrative event either carries an embedded structured block, which is
// decoded directly, or is cleaned and sent to the extraction oracle, whose
// report is decoded instead. Exactly one decoder runs per event.
//
// At most one extraction runs at a time. Events arriving while one is in
// flight are dropped, not queued, and an event whose cleaned text equals the
// previous one is ignored.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/worldtracker/internal/normalize"
	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/pkg/delta"
	"github.com/MrWong99/worldtracker/pkg/world"
)

var (
	// ErrInFlight is returned when an extraction is already running.
	ErrInFlight = errors.New("extract: extraction already in flight")

	// ErrDuplicate is returned for an event whose cleaned text repeats the
	// previous event.
	ErrDuplicate = errors.New("extract: duplicate narrative text")

	// ErrEmpty is returned when nothing is left after cleaning.
	ErrEmpty = errors.New("extract: no narrative text")

	// ErrNotLoaded is returned while no world state is loaded.
	ErrNotLoaded = errors.New("extract: no world state loaded")
)

// Event is one piece of narrative output.
type Event struct {
	// Text is the raw narrative, possibly carrying reasoning sections and an
	// embedded block.
	Text string

	// Continue marks Text as a continuation of Previous.
	Continue bool

	// Previous is the narrative being continued.
	Previous string
}

// Source names the decoder that produced a [Result].
type Source string

const (
	SourceBlock  Source = "block"
	SourceOracle Source = "oracle"
)

// Result is the outcome of one extraction.
type Result struct {
	Delta  *delta.Delta
	Source Source

	// Raw is the oracle report, empty for embedded blocks.
	Raw string
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMetrics records extraction latency and drops on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// Extractor runs extractions. It is safe for concurrent use.
type Extractor struct {
	oracle     Oracle
	normalizer *normalize.Normalizer
	metrics    *observe.Metrics

	inFlight atomic.Bool

	mu   sync.Mutex
	last string
}

// New creates an Extractor.
func New(oracle Oracle, n *normalize.Normalizer, opts ...Option) *Extractor {
	if n == nil {
		n = normalize.New(nil)
	}
	e := &Extractor{oracle: oracle, normalizer: n}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Reset forgets the previous event text, e.g. after a context switch.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = ""
}

// Busy reports whether an extraction is in flight.
func (e *Extractor) Busy() bool { return e.inFlight.Load() }

// Extract decodes ev against snap, a snapshot of the current world model.
// The returned delta may be empty. Oracle failures are returned as errors;
// an unusable oracle report yields an empty delta.
func (e *Extractor) Extract(ctx context.Context, ev Event, snap *world.Model) (Result, error) {
	raw := normalize.MergeContinue(ev.Text, ev.Previous, ev.Continue)
	clean := e.normalizer.Clean(raw)
	if err := e.admit(ctx, clean, snap); err != nil {
		return Result{}, err
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		e.metrics.RecordDropped(ctx, "in_flight")
		return Result{}, ErrInFlight
	}
	defer e.inFlight.Store(false)

	if block, ok := e.normalizer.ExtractBlock(raw); ok {
		d := e.normalizer.NormalizeBlock(block, snap)
		slog.Debug("extract: decoded embedded block", "empty", d.IsEmpty())
		return Result{Delta: d, Source: SourceBlock}, nil
	}
	return e.ask(ctx, clean, snap)
}

// admit applies the duplicate and loaded checks. The text is remembered even
// when the event is then rejected for another reason.
func (e *Extractor) admit(ctx context.Context, clean string, snap *world.Model) error {
	if clean == "" {
		return ErrEmpty
	}
	e.mu.Lock()
	dup := clean == e.last
	e.last = clean
	e.mu.Unlock()
	if dup {
		e.metrics.RecordDropped(ctx, "duplicate")
		return ErrDuplicate
	}
	if !snap.Loaded() {
		e.metrics.RecordDropped(ctx, "not_loaded")
		return ErrNotLoaded
	}
	return nil
}

func (e *Extractor) ask(ctx context.Context, clean string, snap *world.Model) (res Result, err error) {
	ctx, span := observe.StartSpan(ctx, "extract.oracle")
	start := time.Now()
	defer func() {
		e.metrics.RecordExtraction(ctx, time.Since(start), err)
		observe.EndSpan(span, err)
	}()

	prompt, err := BuildPrompt(clean, Summarize(snap))
	if err != nil {
		return Result{}, err
	}
	report, err := e.oracle.Extract(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("extract: %w", err)
	}
	d, perr := normalize.ParseReport(report)
	if perr != nil {
		observe.Logger(ctx).Warn("extract: discarding unusable oracle report", "err", perr, "len", len(report))
		d = &delta.Delta{}
	}
	return Result{Delta: d, Source: SourceOracle, Raw: report}, nil
}
