package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the int64 sum data point of name whose attribute key has
// value, or -1 when there is none.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestRecordExtraction(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordExtraction(ctx, 1500*time.Millisecond, nil)
	m.RecordExtraction(ctx, 200*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "worldtracker.oracle.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "worldtracker.oracle.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	hist, ok := findMetric(rm, "worldtracker.extraction.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("extraction histogram = %+v", hist)
	}
}

func TestQueueDepthFollowsProposals(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	for _, c := range []string{"npc_state", "npc_state", "date_advance"} {
		m.RecordProposal(ctx, c)
	}
	m.RecordDecision(ctx, "accepted", 1)
	m.RecordDecision(ctx, "denied", 0)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "worldtracker.queue.depth", "", ""); got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "worldtracker.proposals.created", "category", "npc_state"); got != 2 {
		t.Errorf("npc_state proposals = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "worldtracker.proposals.decided", "decision", "denied"); got != -1 {
		t.Errorf("zero-count decision was recorded: %d", got)
	}
}

func TestRecordStore(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordStore(ctx, "push", time.Second, nil)
	m.RecordStore(ctx, "push", time.Second, errors.New("403"))
	m.RecordStore(ctx, "fetch", time.Second, errors.New("404"))

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "worldtracker.store.errors", "op", "push"); got != 1 {
		t.Errorf("push errors = %d, want 1", got)
	}
	if got := sumByAttr(t, rm, "worldtracker.store.errors", "op", "fetch"); got != 1 {
		t.Errorf("fetch errors = %d, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	ctx := context.Background()
	m.RecordExtraction(ctx, time.Second, nil)
	m.RecordDropped(ctx, "in_flight")
	m.RecordProposal(ctx, "npc_state")
	m.RecordDecision(ctx, "accepted", 1)
	m.RecordStore(ctx, "push", time.Second, nil)
}
