// Package obsmetrics exposes pipeline and store instrumentation as
// Prometheus collectors. It replaces the teacher's hand-rolled pkg/metrics
// package with the same Registry/Handler/Record* shape used across the
// example pack (see r3e-network-service_layer/pkg/metrics), adapted to this
// module's IndexingStatistics counters instead of HTTP/RPC metrics.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this package registers. A dedicated
// registry (rather than prometheus.DefaultRegisterer) keeps /metrics output
// limited to this module's own series plus the standard process/Go
// collectors.
var Registry = prometheus.NewRegistry()

var (
	docsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "docs_total",
			Help:      "Total documents ingested, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "events_total",
			Help:      "Total extraction events produced, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	sentencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "sentences_total",
			Help:      "Total sentences segmented, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	subjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "subjects_total",
			Help:      "Total distinct subject mentions extracted, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	predicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "predicates_total",
			Help:      "Total predicate mentions extracted, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	objectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "objects_total",
			Help:      "Total distinct object mentions extracted, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	graphEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "graph_events_total",
			Help:      "Total events written to the graph store, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	vectorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "vector_events_total",
			Help:      "Total events written to the vector store, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "batches_total",
			Help:      "Total store batches flushed, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	dataProcessedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "data_processed_bytes_total",
			Help:      "Total bytes of source payload processed, by pipeline.",
		},
		[]string{"pipeline_id"},
	)

	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "events_received_total",
			Help:      "Total events received off the bus, by pipeline and stage.",
		},
		[]string{"pipeline_id", "stage"},
	)

	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "events_sent_total",
			Help:      "Total events published onto the bus, by pipeline and stage.",
		},
		[]string{"pipeline_id", "stage"},
	)

	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "events_processed_total",
			Help:      "Total events fully processed by a stage, by pipeline and stage.",
		},
		[]string{"pipeline_id", "stage"},
	)

	quarantinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "querent",
			Subsystem: "indexing",
			Name:      "quarantined_events_total",
			Help:      "Total events quarantined, by pipeline and stage.",
		},
		[]string{"pipeline_id", "stage"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "querent",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of one actor's Handle call, by pipeline, stage and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"pipeline_id", "stage", "outcome"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "querent",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half_open, 2=open).",
		},
		[]string{"pipeline_id", "breaker"},
	)

	storeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "querent",
			Subsystem: "store",
			Name:      "request_duration_seconds",
			Help:      "Duration of a single index-store round trip, by store and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"store", "operation", "outcome"},
	)

	discoverySessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "querent",
			Subsystem: "discovery",
			Name:      "active_sessions",
			Help:      "Currently open discovery sessions, by agent type.",
		},
		[]string{"agent_type"},
	)
)

func init() {
	Registry.MustRegister(
		docsTotal,
		eventsTotal,
		sentencesTotal,
		subjectsTotal,
		predicatesTotal,
		objectsTotal,
		graphEventsTotal,
		vectorEventsTotal,
		batchesTotal,
		dataProcessedBytes,
		eventsReceived,
		eventsSent,
		eventsProcessed,
		quarantinedTotal,
		stageDuration,
		breakerState,
		storeLatency,
		discoverySessions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing this package's Prometheus
// collectors at the node's /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Snapshot is the subset of domain.IndexingStatistics's deltas that arrived
// since the last call; the Event-Streamer computes these deltas and hands
// them to RecordIndexingDelta rather than re-deriving them here.
type Snapshot struct {
	Docs             int64
	Events           int64
	Sentences        int64
	Subjects         int64
	Predicates       int64
	Objects          int64
	GraphEvents      int64
	VectorEvents     int64
	Batches          int64
	DataProcessed    int64
}

// RecordIndexingDelta adds one IndexingStatistics delta to the pipeline's
// running counters. Counters only move forward, matching the
// monotonically-increasing contract of IndexingStatistics itself.
func RecordIndexingDelta(pipelineID string, d Snapshot) {
	if pipelineID == "" {
		pipelineID = "unknown"
	}
	addIfPositive(docsTotal.WithLabelValues(pipelineID), d.Docs)
	addIfPositive(eventsTotal.WithLabelValues(pipelineID), d.Events)
	addIfPositive(sentencesTotal.WithLabelValues(pipelineID), d.Sentences)
	addIfPositive(subjectsTotal.WithLabelValues(pipelineID), d.Subjects)
	addIfPositive(predicatesTotal.WithLabelValues(pipelineID), d.Predicates)
	addIfPositive(objectsTotal.WithLabelValues(pipelineID), d.Objects)
	addIfPositive(graphEventsTotal.WithLabelValues(pipelineID), d.GraphEvents)
	addIfPositive(vectorEventsTotal.WithLabelValues(pipelineID), d.VectorEvents)
	addIfPositive(batchesTotal.WithLabelValues(pipelineID), d.Batches)
	addIfPositive(dataProcessedBytes.WithLabelValues(pipelineID), d.DataProcessed)
}

func addIfPositive(c prometheus.Counter, v int64) {
	if v > 0 {
		c.Add(float64(v))
	}
}

// RecordEventReceived counts one event entering a pipeline stage's mailbox.
func RecordEventReceived(pipelineID, stage string) {
	eventsReceived.WithLabelValues(label(pipelineID), label(stage)).Inc()
}

// RecordEventSent counts one event published out of a pipeline stage.
func RecordEventSent(pipelineID, stage string) {
	eventsSent.WithLabelValues(label(pipelineID), label(stage)).Inc()
}

// RecordEventProcessed counts one event a stage finished handling, success
// or failure.
func RecordEventProcessed(pipelineID, stage string) {
	eventsProcessed.WithLabelValues(label(pipelineID), label(stage)).Inc()
}

// RecordQuarantine counts one event routed to the quarantine topic.
func RecordQuarantine(pipelineID, stage string) {
	quarantinedTotal.WithLabelValues(label(pipelineID), label(stage)).Inc()
}

// RecordStageDuration records how long one actor's Handle call took.
func RecordStageDuration(pipelineID, stage string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if dur < 0 {
		dur = 0
	}
	stageDuration.WithLabelValues(label(pipelineID), label(stage), outcome).Observe(dur.Seconds())
}

// BreakerState enumerates the three circuit breaker states as the small
// integers the breaker_state gauge reports.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

// RecordBreakerState publishes a breaker's current state.
func RecordBreakerState(pipelineID, breaker string, state BreakerState) {
	breakerState.WithLabelValues(label(pipelineID), label(breaker)).Set(float64(state))
}

// RecordStoreRequest records one index-store round trip's latency and
// outcome, independent of which pipeline issued it.
func RecordStoreRequest(store, operation string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if dur < 0 {
		dur = 0
	}
	storeLatency.WithLabelValues(label(store), label(operation), outcome).Observe(dur.Seconds())
}

// SetActiveDiscoverySessions publishes the current open-session count for
// an agent type (retriever or traverser).
func SetActiveDiscoverySessions(agentType string, n int) {
	discoverySessions.WithLabelValues(label(agentType)).Set(float64(n))
}

func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
