// Package storagemapper fans a SemanticEvent out to the index store's three
// columns: the graph store, the vector store, and the relational
// projection. Every write is keyed by event_id, so re-delivery of the same
// event is always an idempotent upsert. Retries use the teacher's
// pkg/fn.Retry/pkg/resilience.Breaker composition (spec §4.5's bounded
// exponential backoff), never a bespoke retry loop.
package storagemapper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/fn"
	"github.com/querent-ai/querent/pkg/resilience"
)

// graphWriter, vectorWriter and relWriter are the minimal store surfaces
// Actor needs; *graph.Store, *vector.Store and *index.Store each satisfy
// one directly, and a fake can satisfy one in tests without a live
// Neo4j/Qdrant/Postgres instance, mirroring the narrow runner/querier seams
// those packages already use.
type graphWriter interface {
	UpsertEvent(ctx context.Context, ev domain.GraphEvent) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type vectorWriter interface {
	Upsert(ctx context.Context, events []domain.SemanticEvent) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type relWriter interface {
	UpsertSemanticKnowledge(ctx context.Context, pipelineID string, ev domain.GraphEvent) error
	DeleteSemanticKnowledgeByDocumentID(ctx context.Context, documentID string) error
}

// QuarantinedEvent is published when an event exhausts its retry budget on
// any store write, after any compensating delete has already run.
type QuarantinedEvent struct {
	EventID    string    `json:"event_id"`
	DocumentID string    `json:"document_id"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Actor owns all three index-store writes for a pipeline. It is a
// NonBlocking actor: store round-trips are I/O-bound, not CPU-bound, and
// ordering within one event (graph before vector/index) must not
// interleave with another event on the same mailbox.
type Actor struct {
	pipelineID string
	graphs     graphWriter
	vectors    vectorWriter
	rel        relWriter
	quarantine *bus.Topic[QuarantinedEvent]
	realtime   *bus.Realtime
	retry      fn.RetryOpts

	graphBreaker  *resilience.Breaker
	vectorBreaker *resilience.Breaker
	relBreaker    *resilience.Breaker

	log *slog.Logger

	written     int64
	quarantined int64
}

// NewActor builds a storagemapper Actor for one running pipeline.
func NewActor(pipelineID string, graphs graphWriter, vectors vectorWriter, rel relWriter, quarantine *bus.Topic[QuarantinedEvent], realtime *bus.Realtime, log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	return &Actor{
		pipelineID:    pipelineID,
		graphs:        graphs,
		vectors:       vectors,
		rel:           rel,
		quarantine:    quarantine,
		realtime:      realtime,
		retry:         fn.DefaultRetry,
		graphBreaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
		vectorBreaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		relBreaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:           log,
	}
}

func (a *Actor) Initialize(ctx context.Context) error { return nil }

// Handle writes ev to the graph store first — so any concurrent Discovery
// traversal observes the edge before the event is citable — then the
// vector and relational stores. A permanent failure on either of the
// latter two triggers a compensating delete of everything already written
// for the event's document, and the event is quarantined.
func (a *Actor) Handle(ctx context.Context, ev domain.SemanticEvent) error {
	graphResult := fn.RetryStage(a.retry, resilience.BreakerStage(a.graphBreaker, a.graphWriteStage()))(ctx, ev)
	if graphResult.IsErr() {
		a.quarantineEvent(ctx, ev, "graph", graphResult.Unwrap)
		return nil
	}

	relResult := fn.RetryStage(a.retry, resilience.BreakerStage(a.relBreaker, a.relWriteStage()))(ctx, ev)
	vectorResult := fn.RetryStage(a.retry, resilience.BreakerStage(a.vectorBreaker, a.vectorWriteStage()))(ctx, ev)

	if relResult.IsErr() || vectorResult.IsErr() {
		a.compensate(ctx, ev)
		_, relErr := relResult.Unwrap()
		_, vecErr := vectorResult.Unwrap()
		a.quarantineEventErr(ctx, ev, "storage_mapper", errors.Join(relErr, vecErr))
		return nil
	}

	a.written++
	return nil
}

func (a *Actor) graphWriteStage() fn.Stage[domain.SemanticEvent, domain.SemanticEvent] {
	return func(ctx context.Context, ev domain.SemanticEvent) fn.Result[domain.SemanticEvent] {
		if err := a.graphs.UpsertEvent(ctx, ev.Graph); err != nil {
			return fn.Err[domain.SemanticEvent](err)
		}
		return fn.Ok(ev)
	}
}

func (a *Actor) vectorWriteStage() fn.Stage[domain.SemanticEvent, domain.SemanticEvent] {
	return func(ctx context.Context, ev domain.SemanticEvent) fn.Result[domain.SemanticEvent] {
		if err := a.vectors.Upsert(ctx, []domain.SemanticEvent{ev}); err != nil {
			return fn.Err[domain.SemanticEvent](err)
		}
		return fn.Ok(ev)
	}
}

func (a *Actor) relWriteStage() fn.Stage[domain.SemanticEvent, domain.SemanticEvent] {
	return func(ctx context.Context, ev domain.SemanticEvent) fn.Result[domain.SemanticEvent] {
		if err := a.rel.UpsertSemanticKnowledge(ctx, a.pipelineID, ev.Graph); err != nil {
			return fn.Err[domain.SemanticEvent](err)
		}
		return fn.Ok(ev)
	}
}

// compensate removes every store's rows for ev's document once a permanent
// partial-write failure is detected, per the resolved Open Question on
// partial-store-failure recovery.
func (a *Actor) compensate(ctx context.Context, ev domain.SemanticEvent) {
	if err := a.graphs.DeleteByDocumentID(ctx, ev.Graph.DocumentID); err != nil {
		a.log.Warn("storagemapper: compensating graph delete failed", "document_id", ev.Graph.DocumentID, "error", err)
	}
	if err := a.vectors.DeleteByDocumentID(ctx, ev.Graph.DocumentID); err != nil {
		a.log.Warn("storagemapper: compensating vector delete failed", "document_id", ev.Graph.DocumentID, "error", err)
	}
	if err := a.rel.DeleteSemanticKnowledgeByDocumentID(ctx, ev.Graph.DocumentID); err != nil {
		a.log.Warn("storagemapper: compensating relational delete failed", "document_id", ev.Graph.DocumentID, "error", err)
	}
}

func (a *Actor) quarantineEvent(ctx context.Context, ev domain.SemanticEvent, stage string, unwrap func() (domain.SemanticEvent, error)) {
	_, err := unwrap()
	a.quarantineEventErr(ctx, ev, stage, err)
}

func (a *Actor) quarantineEventErr(ctx context.Context, ev domain.SemanticEvent, stage string, err error) {
	a.quarantined++
	a.log.Error("storagemapper: quarantining event", "event_id", ev.Graph.EventID, "stage", stage, "error", err)
	q := QuarantinedEvent{
		EventID:    ev.Graph.EventID,
		DocumentID: ev.Graph.DocumentID,
		Stage:      stage,
		Reason:     errString(err),
		At:         time.Now(),
	}
	if a.quarantine != nil {
		a.quarantine.Publish(q)
	}
	if a.realtime != nil {
		if pubErr := bus.Publish(ctx, a.realtime, bus.SubjectQuarantine, q); pubErr != nil {
			a.log.Warn("storagemapper: quarantine publish failed", "event_id", ev.Graph.EventID, "error", pubErr)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (a *Actor) OnDrained(ctx context.Context) {}

func (a *Actor) Finalize(ctx context.Context, exit actor.ExitStatus) {}

// State is the ObservableState snapshot for an Actor.
type State struct {
	Written     int64
	Quarantined int64
}

func (a *Actor) ObservableState() any {
	return State{Written: a.written, Quarantined: a.quarantined}
}
