package obsmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIndexingDeltaAccumulates(t *testing.T) {
	RecordIndexingDelta("pipe-metrics-1", Snapshot{Docs: 2, Events: 5, GraphEvents: 5})
	RecordIndexingDelta("pipe-metrics-1", Snapshot{Docs: 1})

	if got := testutil.ToFloat64(docsTotal.WithLabelValues("pipe-metrics-1")); got != 3 {
		t.Fatalf("expected docs_total=3, got %v", got)
	}
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues("pipe-metrics-1")); got != 5 {
		t.Fatalf("expected events_total=5, got %v", got)
	}
}

func TestRecordIndexingDeltaIgnoresNonPositive(t *testing.T) {
	RecordIndexingDelta("pipe-metrics-2", Snapshot{Docs: 0})
	if got := testutil.ToFloat64(docsTotal.WithLabelValues("pipe-metrics-2")); got != 0 {
		t.Fatalf("expected docs_total=0, got %v", got)
	}
}

func TestRecordIndexingDeltaDefaultsUnknownPipeline(t *testing.T) {
	RecordIndexingDelta("", Snapshot{Docs: 1})
	if got := testutil.ToFloat64(docsTotal.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected docs_total for unknown pipeline >= 1, got %v", got)
	}
}

func TestRecordEventCounters(t *testing.T) {
	RecordEventReceived("pipe-metrics-3", "ingestor")
	RecordEventSent("pipe-metrics-3", "ingestor")
	RecordEventProcessed("pipe-metrics-3", "ingestor")
	RecordQuarantine("pipe-metrics-3", "storage_mapper")

	if got := testutil.ToFloat64(eventsReceived.WithLabelValues("pipe-metrics-3", "ingestor")); got != 1 {
		t.Fatalf("expected events_received=1, got %v", got)
	}
	if got := testutil.ToFloat64(eventsSent.WithLabelValues("pipe-metrics-3", "ingestor")); got != 1 {
		t.Fatalf("expected events_sent=1, got %v", got)
	}
	if got := testutil.ToFloat64(eventsProcessed.WithLabelValues("pipe-metrics-3", "ingestor")); got != 1 {
		t.Fatalf("expected events_processed=1, got %v", got)
	}
	if got := testutil.ToFloat64(quarantinedTotal.WithLabelValues("pipe-metrics-3", "storage_mapper")); got != 1 {
		t.Fatalf("expected quarantined_events=1, got %v", got)
	}
}

func TestRecordStageDurationTracksOutcome(t *testing.T) {
	RecordStageDuration("pipe-metrics-4", "engine", 10*time.Millisecond, nil)
	RecordStageDuration("pipe-metrics-4", "engine", -1, errors.New("boom"))

	ok := stageDuration.WithLabelValues("pipe-metrics-4", "engine", "ok").(prometheus.Histogram)
	if count := testutil.CollectAndCount(ok); count != 1 {
		t.Fatalf("expected one ok series, got %d", count)
	}
	failed := stageDuration.WithLabelValues("pipe-metrics-4", "engine", "error").(prometheus.Histogram)
	if count := testutil.CollectAndCount(failed); count != 1 {
		t.Fatalf("expected one error series, got %d", count)
	}
}

func TestRecordBreakerState(t *testing.T) {
	RecordBreakerState("pipe-metrics-5", "graph", BreakerOpen)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("pipe-metrics-5", "graph")); got != float64(BreakerOpen) {
		t.Fatalf("expected breaker state %v, got %v", BreakerOpen, got)
	}
	RecordBreakerState("pipe-metrics-5", "graph", BreakerClosed)
	if got := testutil.ToFloat64(breakerState.WithLabelValues("pipe-metrics-5", "graph")); got != float64(BreakerClosed) {
		t.Fatalf("expected breaker state reset to closed, got %v", got)
	}
}

func TestRecordStoreRequest(t *testing.T) {
	RecordStoreRequest("graph", "upsert_event", 5*time.Millisecond, nil)
	sample := storeLatency.WithLabelValues("graph", "upsert_event", "ok").(prometheus.Histogram)
	if count := testutil.CollectAndCount(sample); count != 1 {
		t.Fatalf("expected one store latency sample, got %d", count)
	}
}

func TestSetActiveDiscoverySessions(t *testing.T) {
	SetActiveDiscoverySessions("retriever", 3)
	if got := testutil.ToFloat64(discoverySessions.WithLabelValues("retriever")); got != 3 {
		t.Fatalf("expected 3 active sessions, got %v", got)
	}
	SetActiveDiscoverySessions("", 0)
	if got := testutil.ToFloat64(discoverySessions.WithLabelValues("unknown")); got != 0 {
		t.Fatalf("expected 0 active sessions for unknown agent type, got %v", got)
	}
}
