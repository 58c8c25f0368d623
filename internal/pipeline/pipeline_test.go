package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/source"
)

type fakeGraphStore struct {
	mu       sync.Mutex
	upserted []domain.GraphEvent
	deleted  []string
}

func (f *fakeGraphStore) UpsertEvent(_ context.Context, ev domain.GraphEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, ev)
	return nil
}

func (f *fakeGraphStore) DeleteByDocumentID(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeVectorStore struct {
	mu       sync.Mutex
	upserted int
}

func (f *fakeVectorStore) Upsert(_ context.Context, events []domain.SemanticEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted += len(events)
	return nil
}

func (f *fakeVectorStore) DeleteByDocumentID(_ context.Context, _ string) error { return nil }

type fakeIndexStore struct {
	mu         sync.Mutex
	collectors []domain.CollectorConfig
	upserted   []domain.GraphEvent
	states     []domain.PipelineState
}

func (f *fakeIndexStore) ListCollectors(_ context.Context) ([]domain.CollectorConfig, error) {
	return f.collectors, nil
}

func (f *fakeIndexStore) UpsertSemanticKnowledge(_ context.Context, _ string, ev domain.GraphEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, ev)
	return nil
}

func (f *fakeIndexStore) DeleteSemanticKnowledgeByDocumentID(_ context.Context, _ string) error {
	return nil
}

func (f *fakeIndexStore) UpsertPipelineState(_ context.Context, st domain.PipelineState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, st)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

// fakeSource hands back one chunk on its first Poll and nothing after,
// so a test pipeline produces a bounded, deterministic amount of work.
type fakeSource struct {
	mu      sync.Mutex
	polled  bool
	openErr error
}

func (f *fakeSource) Open(_ context.Context) error { return f.openErr }

func (f *fakeSource) Poll(_ context.Context) ([]domain.RawChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polled {
		return nil, nil
	}
	f.polled = true
	return []domain.RawChunk{{
		SourceID:    "collector-1",
		DocumentID:  "doc-1",
		DocSource:   "test",
		Text:        "Acme operates the Wildcat well.",
		ContentType: "text/plain",
	}}, nil
}

func (f *fakeSource) Checkpoint() string  { return "" }
func (f *fakeSource) Resume(string) error { return nil }
func (f *fakeSource) Close() error        { return nil }

func testRegistry(factory source.Factory) *source.Registry {
	reg := source.NewRegistry()
	reg.Register(domain.CollectorFileTree, factory)
	return reg
}

func testCollector() domain.CollectorConfig {
	return domain.CollectorConfig{ID: "collector-1", Kind: domain.CollectorFileTree, PollInterval: time.Hour}
}

func testDeps(reg *source.Registry, idx *fakeIndexStore) (Dependencies, *fakeGraphStore, *fakeVectorStore) {
	graph := &fakeGraphStore{}
	vector := &fakeVectorStore{}
	return Dependencies{
		Sources:  reg,
		Graph:    graph,
		Vector:   vector,
		Index:    idx,
		Embedder: fakeEmbedder{},
	}, graph, vector
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestStartRunsOneChunkThroughEveryStage(t *testing.T) {
	src := &fakeSource{}
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return src, nil })
	deps, graph, vector := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{
		Collectors:    []string{"collector-1"},
		FixedEntities: []string{"Acme", "Wildcat"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		graph.mu.Lock()
		defer graph.mu.Unlock()
		return len(graph.upserted) >= 1
	})
	waitFor(t, 2*time.Second, func() bool {
		vector.mu.Lock()
		defer vector.mu.Unlock()
		return vector.upserted >= 1
	})

	stats, err := sup.Describe(id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		stats, _ = sup.Describe(id)
		return stats.TotalGraphEvents >= 1
	})

	if err := sup.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartFailsWhenCollectorUnknown(t *testing.T) {
	idx := &fakeIndexStore{}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return &fakeSource{}, nil })
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	_, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{Collectors: []string{"missing"}})
	if !errors.Is(err, domain.ErrPipelineInitFailed) {
		t.Fatalf("expected ErrPipelineInitFailed, got %v", err)
	}
}

func TestStartFailsWhenSourceOpenErrors(t *testing.T) {
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) {
		return &fakeSource{openErr: errors.New("disk unavailable")}, nil
	})
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	_, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{Collectors: []string{"collector-1"}})
	if !errors.Is(err, domain.ErrPipelineInitFailed) {
		t.Fatalf("expected ErrPipelineInitFailed, got %v", err)
	}
}

func TestObserveCountsRunningPipeline(t *testing.T) {
	src := &fakeSource{}
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return src, nil })
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{Collectors: []string{"collector-1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(id)

	counters := sup.Observe()
	if counters.Running != 1 {
		t.Fatalf("expected one running pipeline, got %+v", counters)
	}
}

func TestStopTransitionsToStopped(t *testing.T) {
	src := &fakeSource{}
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return src, nil })
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{Collectors: []string{"collector-1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sup.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	infos := sup.ListPipelines()
	if len(infos) != 1 || infos[0].Status != domain.StatusStopped {
		t.Fatalf("expected pipeline stopped, got %+v", infos)
	}
}

func TestRestartMintsNewPipelineID(t *testing.T) {
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return &fakeSource{}, nil })
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{Collectors: []string{"collector-1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	newID, err := sup.Restart(context.Background(), id)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if newID == id {
		t.Fatal("expected a new pipeline id on restart")
	}
	if _, err := sup.Describe(newID); err != nil {
		t.Fatalf("expected the new pipeline id to be known, got %v", err)
	}

	infos := sup.ListPipelines()
	statuses := make(map[string]domain.PipelineStatus, len(infos))
	for _, info := range infos {
		statuses[info.PipelineID] = info.Status
	}
	if statuses[id] != domain.StatusStopped {
		t.Fatalf("expected the old pipeline id to be Stopped, got %v", statuses[id])
	}
	sup.Stop(newID)
}

func TestIngestBypassesSourceAndReachesStorageMapper(t *testing.T) {
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return &fakeSource{}, nil })
	deps, graph, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{
		Collectors:    []string{"collector-1"},
		FixedEntities: []string{"Acme", "Wildcat"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(id)

	err = sup.Ingest(id, []domain.IngestedTokens{{
		PipelineID: id,
		File:       "doc-2",
		SourceID:   "manual",
		DocSource:  "push",
		Data:       []string{"Acme drilled the Wildcat well."},
	}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		graph.mu.Lock()
		defer graph.mu.Unlock()
		return len(graph.upserted) >= 1
	})
}

func TestIngestOneBatchOfSegmentsCountsAsOneDocument(t *testing.T) {
	idx := &fakeIndexStore{collectors: []domain.CollectorConfig{testCollector()}}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return &fakeSource{}, nil })
	deps, graph, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	id, err := sup.Start(context.Background(), domain.SemanticPipelineRequest{
		Collectors:    []string{"collector-1"},
		FixedEntities: []string{"Acme", "Wildcat"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(id)

	err = sup.Ingest(id, []domain.IngestedTokens{{
		PipelineID: id,
		File:       "doc-3",
		SourceID:   "manual",
		DocSource:  "push",
		Data: []string{
			"Acme drilled the Wildcat well.",
			"Acme operates the Wildcat well.",
			"The Wildcat well belongs to Acme.",
		},
	}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		graph.mu.Lock()
		defer graph.mu.Unlock()
		return len(graph.upserted) >= 3
	})

	r, err := sup.lookup(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	ist, ok := r.ingestorState()
	if !ok {
		t.Fatal("expected ingestor state")
	}
	if ist.DocsOut != 1 {
		t.Fatalf("expected a 3-segment batch to count as 1 document, got DocsOut=%d", ist.DocsOut)
	}
	est, ok := r.engineState()
	if !ok {
		t.Fatal("expected engine state")
	}
	if est.SegmentsIn != 3 {
		t.Fatalf("expected 3 segments processed, got %d", est.SegmentsIn)
	}
}

func TestIngestRejectsUnknownPipeline(t *testing.T) {
	idx := &fakeIndexStore{}
	reg := testRegistry(func(domain.CollectorConfig) (source.Source, error) { return &fakeSource{}, nil })
	deps, _, _ := testDeps(reg, idx)

	sup := NewSupervisor(deps)
	err := sup.Ingest("nonexistent", []domain.IngestedTokens{{File: "doc-1", Data: []string{"x"}}})
	if !errors.Is(err, domain.ErrPipelineNotFound) {
		t.Fatalf("expected ErrPipelineNotFound, got %v", err)
	}
}
