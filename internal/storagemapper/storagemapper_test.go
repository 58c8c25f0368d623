package storagemapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
)

type fakeGraph struct {
	upsertErr error
	upserted  []domain.GraphEvent
	deleted   []string
}

func (f *fakeGraph) UpsertEvent(_ context.Context, ev domain.GraphEvent) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, ev)
	return nil
}

func (f *fakeGraph) DeleteByDocumentID(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeVector struct {
	upsertErr error
	upserted  int
	deleted   []string
}

func (f *fakeVector) Upsert(_ context.Context, events []domain.SemanticEvent) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted += len(events)
	return nil
}

func (f *fakeVector) DeleteByDocumentID(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeRel struct {
	upsertErr error
	upserted  []domain.GraphEvent
	deleted   []string
}

func (f *fakeRel) UpsertSemanticKnowledge(_ context.Context, _ string, ev domain.GraphEvent) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, ev)
	return nil
}

func (f *fakeRel) DeleteSemanticKnowledgeByDocumentID(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

func newTestEvent() domain.SemanticEvent {
	return domain.SemanticEvent{
		Graph: domain.GraphEvent{EventID: "evt-1", DocumentID: "doc-1", Subject: "a", Object: "b", Predicate: "rel"},
	}
}

func fastActor(g graphWriter, v vectorWriter, r relWriter, q *bus.Topic[QuarantinedEvent]) *Actor {
	a := NewActor("pipe-1", g, v, r, q, nil, nil)
	a.retry.MaxAttempts = 1 // keep tests fast; no sleeping between attempts
	return a
}

func TestHandleWritesAllThreeStores(t *testing.T) {
	g := &fakeGraph{}
	v := &fakeVector{}
	r := &fakeRel{}
	a := fastActor(g, v, r, nil)

	if err := a.Handle(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.upserted) != 1 || v.upserted != 1 || len(r.upserted) != 1 {
		t.Fatalf("expected all three stores written once, got graph=%d vector=%d rel=%d", len(g.upserted), v.upserted, len(r.upserted))
	}
	state := a.ObservableState().(State)
	if state.Written != 1 || state.Quarantined != 0 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestHandleGraphFailureQuarantinesWithoutWritingOthers(t *testing.T) {
	g := &fakeGraph{upsertErr: errors.New("neo4j down")}
	v := &fakeVector{}
	r := &fakeRel{}
	q := bus.NewTopic[QuarantinedEvent]()
	ch, unsub := q.Subscribe(4)
	defer unsub()

	a := fastActor(g, v, r, q)
	if err := a.Handle(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.upserted != 0 || len(r.upserted) != 0 {
		t.Fatal("expected vector/relational writes to be skipped after a graph failure")
	}

	select {
	case qe := <-ch:
		if qe.Stage != "graph" || qe.EventID != "evt-1" {
			t.Fatalf("unexpected quarantine event: %+v", qe)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a quarantine event")
	}
}

func TestHandleVectorFailureCompensatesGraphAndRel(t *testing.T) {
	g := &fakeGraph{}
	v := &fakeVector{upsertErr: errors.New("qdrant unavailable")}
	r := &fakeRel{}
	q := bus.NewTopic[QuarantinedEvent]()
	ch, unsub := q.Subscribe(4)
	defer unsub()

	a := fastActor(g, v, r, q)
	if err := a.Handle(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.deleted) != 1 || g.deleted[0] != "doc-1" {
		t.Fatalf("expected compensating graph delete for doc-1, got %v", g.deleted)
	}
	if len(r.deleted) != 1 || r.deleted[0] != "doc-1" {
		t.Fatalf("expected compensating relational delete for doc-1, got %v", r.deleted)
	}

	select {
	case qe := <-ch:
		if qe.Stage != "storage_mapper" {
			t.Fatalf("unexpected quarantine stage: %s", qe.Stage)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a quarantine event")
	}
}
