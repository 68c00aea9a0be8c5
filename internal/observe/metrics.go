// Package observe provides the observability primitives of worldtracker:
// OpenTelemetry metrics, tracing helpers, trace-aware logging and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter set up by [InitProvider]. Tests
// should build a [Metrics] with [NewMetrics] over a ManualReader-backed
// provider.
//
// All Record methods accept a nil *Metrics and do nothing, so components can
// run without instrumentation.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/worldtracker"

// Metrics holds all metric instruments of the application. The underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// ExtractionDuration tracks the latency of one oracle extraction round
	// trip, including normalisation.
	ExtractionDuration metric.Float64Histogram

	// OracleRequests counts oracle calls. Attributes: status.
	OracleRequests metric.Int64Counter

	// ExtractionsDropped counts narrative events that were ignored.
	// Attributes: reason ("in_flight", "duplicate", "not_loaded").
	ExtractionsDropped metric.Int64Counter

	// ProposalsCreated counts proposals entering the review queue.
	// Attributes: category.
	ProposalsCreated metric.Int64Counter

	// ProposalsDecided counts review decisions. Attributes: decision
	// ("accepted", "denied").
	ProposalsDecided metric.Int64Counter

	// QueueDepth tracks the number of pending proposals.
	QueueDepth metric.Int64UpDownCounter

	// StoreSyncDuration tracks document store pushes and fetches.
	// Attributes: op ("push", "fetch", "create").
	StoreSyncDuration metric.Float64Histogram

	// StoreErrors counts failed store operations. Attributes: op.
	StoreErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries in seconds, sized for
// LLM calls and remote document stores.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ExtractionDuration, err = m.Float64Histogram("worldtracker.extraction.duration",
		metric.WithDescription("Latency of one extraction round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OracleRequests, err = m.Int64Counter("worldtracker.oracle.requests",
		metric.WithDescription("Total oracle calls by status."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionsDropped, err = m.Int64Counter("worldtracker.extraction.dropped",
		metric.WithDescription("Narrative events ignored by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProposalsCreated, err = m.Int64Counter("worldtracker.proposals.created",
		metric.WithDescription("Proposals queued for review by category."),
	); err != nil {
		return nil, err
	}
	if met.ProposalsDecided, err = m.Int64Counter("worldtracker.proposals.decided",
		metric.WithDescription("Review decisions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("worldtracker.queue.depth",
		metric.WithDescription("Number of proposals pending review."),
	); err != nil {
		return nil, err
	}
	if met.StoreSyncDuration, err = m.Float64Histogram("worldtracker.store.duration",
		metric.WithDescription("Latency of document store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("worldtracker.store.errors",
		metric.WithDescription("Failed document store operations by op."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("worldtracker.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordExtraction records one oracle call and its latency.
func (m *Metrics) RecordExtraction(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Record(ctx, d.Seconds())
	m.OracleRequests.Add(ctx, 1, metric.WithAttributes(Attr("status", statusOf(err))))
}

// RecordDropped records a narrative event that did not trigger extraction.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ExtractionsDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordProposal records a proposal entering the queue.
func (m *Metrics) RecordProposal(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.ProposalsCreated.Add(ctx, 1, metric.WithAttributes(Attr("category", category)))
	m.QueueDepth.Add(ctx, 1)
}

// RecordDecision records n proposals leaving the queue with decision, or
// being dropped by a reset.
func (m *Metrics) RecordDecision(ctx context.Context, decision string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProposalsDecided.Add(ctx, int64(n), metric.WithAttributes(Attr("decision", decision)))
	m.QueueDepth.Add(ctx, -int64(n))
}

// RecordStore records one document store operation.
func (m *Metrics) RecordStore(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(Attr("op", op))
	m.StoreSyncDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.StoreErrors.Add(ctx, 1, attrs)
	}
}
