// Package eventstreamer implements the Event-Streamer stage (spec §4.6):
// it owns no store, reads nothing back, and only aggregates the
// IndexingStatistics deltas the other stages report into it, publishing
// the running total to the pipeline supervisor and any external
// subscriber. It is the last stage in Source → Ingestor → Engine →
// Storage-Mapper → Event-Streamer.
package eventstreamer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/obsmetrics"
)

// Delta is one incremental contribution to a pipeline's running
// IndexingStatistics, reported by an upstream stage after it finishes
// handling a batch or event. Only the fields a stage actually moved need
// be set; zero fields are no-ops.
type Delta struct {
	Docs          int64
	Events        int64
	Sentences     int64
	Subjects      int64
	Predicates    int64
	Objects       int64
	GraphEvents   int64
	VectorEvents  int64
	Batches       int64
	DataProcessed int64

	Received   int64
	Sent       int64
	Processed  int64
	Quarantine int64
}

// QuarantineWindow makes the Event-Streamer fail the pipeline once the
// number of quarantined events within Window reaches Threshold (spec §4.5's
// "configurable threshold of quarantined events over a window").
type QuarantineWindow struct {
	Threshold int
	Window    time.Duration
}

// DefaultQuarantineWindow fails the pipeline on the 10th quarantined event
// within a minute.
var DefaultQuarantineWindow = QuarantineWindow{Threshold: 10, Window: time.Minute}

// Actor aggregates Delta messages into one pipeline's IndexingStatistics
// and republishes the running total. It is a NonBlocking actor: aggregation
// is cheap arithmetic, never a store round trip.
type Actor struct {
	pipelineID string
	realtime   *bus.Realtime
	window     QuarantineWindow
	log        *slog.Logger

	mu     sync.Mutex
	stats  domain.IndexingStatistics
	quarts []time.Time
}

// NewActor builds an Event-Streamer for one pipeline. realtime may be nil,
// in which case statistics are only ever visible via ObservableState
// (used by pipeline.describe and tests).
func NewActor(pipelineID string, realtime *bus.Realtime, window QuarantineWindow, log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	if window.Threshold <= 0 {
		window = DefaultQuarantineWindow
	}
	return &Actor{pipelineID: pipelineID, realtime: realtime, window: window, log: log}
}

func (a *Actor) Initialize(ctx context.Context) error { return nil }

// Handle folds one Delta into the running totals, records it with
// obsmetrics, and republishes the snapshot. It returns an error — which
// the actor runtime treats as a fatal exit, failing the pipeline — once
// quarantined events within the configured window reach the threshold.
func (a *Actor) Handle(ctx context.Context, d Delta) error {
	a.mu.Lock()
	a.apply(d)
	snapshot := a.stats
	exceeded := a.recordQuarantine(d.Quarantine)
	a.mu.Unlock()

	obsmetrics.RecordIndexingDelta(a.pipelineID, obsmetrics.Snapshot{
		Docs:          d.Docs,
		Events:        d.Events,
		Sentences:     d.Sentences,
		Subjects:      d.Subjects,
		Predicates:    d.Predicates,
		Objects:       d.Objects,
		GraphEvents:   d.GraphEvents,
		VectorEvents:  d.VectorEvents,
		Batches:       d.Batches,
		DataProcessed: d.DataProcessed,
	})
	for i := int64(0); i < d.Quarantine; i++ {
		obsmetrics.RecordQuarantine(a.pipelineID, "event_streamer")
	}

	if a.realtime != nil {
		if err := bus.Publish(ctx, a.realtime, bus.SubjectIndexingStats, snapshot); err != nil {
			a.log.Warn("eventstreamer: publish stats failed", "pipeline_id", a.pipelineID, "error", err)
		}
	}

	if exceeded {
		a.log.Error("eventstreamer: quarantine threshold exceeded, failing pipeline",
			"pipeline_id", a.pipelineID, "threshold", a.window.Threshold, "window", a.window.Window)
		return ErrQuarantineThresholdExceeded
	}
	return nil
}

func (a *Actor) apply(d Delta) {
	a.stats.TotalDocs += d.Docs
	a.stats.TotalEvents += d.Events
	a.stats.TotalSentences += d.Sentences
	a.stats.TotalSubjects += d.Subjects
	a.stats.TotalPredicates += d.Predicates
	a.stats.TotalObjects += d.Objects
	a.stats.TotalGraphEvents += d.GraphEvents
	a.stats.TotalVectorEvents += d.VectorEvents
	a.stats.TotalBatches += d.Batches
	a.stats.TotalDataProcessedSize += d.DataProcessed
	a.stats.EventsReceived += d.Received
	a.stats.EventsSent += d.Sent
	a.stats.EventsProcessed += d.Processed
	a.stats.QuarantinedEvents += d.Quarantine
}

// recordQuarantine appends n quarantine timestamps, prunes any older than
// the window, and reports whether the threshold is now exceeded. Caller
// holds a.mu.
func (a *Actor) recordQuarantine(n int64) bool {
	if n <= 0 {
		return false
	}
	now := time.Now()
	for i := int64(0); i < n; i++ {
		a.quarts = append(a.quarts, now)
	}
	cutoff := now.Add(-a.window.Window)
	kept := a.quarts[:0]
	for _, t := range a.quarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.quarts = kept
	return len(a.quarts) >= a.window.Threshold
}

// ErrQuarantineThresholdExceeded is returned by Handle once too many
// events were quarantined within the configured window.
var ErrQuarantineThresholdExceeded = errQuarantineThresholdExceeded{}

type errQuarantineThresholdExceeded struct{}

func (errQuarantineThresholdExceeded) Error() string {
	return "eventstreamer: quarantine threshold exceeded within window"
}

func (a *Actor) OnDrained(ctx context.Context) {}

func (a *Actor) Finalize(ctx context.Context, exit actor.ExitStatus) {}

// ObservableState returns the running IndexingStatistics snapshot, which
// backs the supervisor's describe(pipeline_id) operation.
func (a *Actor) ObservableState() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Describe returns the current IndexingStatistics directly, for callers
// that have an *Actor reference rather than a generic actor.Handle.
func (a *Actor) Describe() domain.IndexingStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
