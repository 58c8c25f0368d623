// Package pipeline implements the Semantic Pipeline supervisor (spec
// §4.7): it owns the full lifecycle of one Source → Ingestor → Engine →
// Storage-Mapper → Event-Streamer run, wiring the bus topics and actor
// mailboxes between stages, and exposes the control-plane operations
// internal/api calls (start, observe, describe, stop, restart, ingest).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/engine"
	"github.com/querent-ai/querent/internal/eventstreamer"
	"github.com/querent-ai/querent/internal/ingestor"
	"github.com/querent-ai/querent/internal/source"
	"github.com/querent-ai/querent/internal/storagemapper"
	"github.com/querent-ai/querent/pkg/modelclient"
	"github.com/querent-ai/querent/pkg/obsmetrics"
)

// defaultPollInterval is used for any collector whose config doesn't set
// its own PollInterval.
const defaultPollInterval = 30 * time.Second

// statsInterval is how often the supervisor samples stage ObservableState
// and folds the delta into the pipeline's Event-Streamer.
const statsInterval = 2 * time.Second

// graphStore, vectorStore and indexStore are the narrow surfaces the
// supervisor needs from the three index-store packages, letting tests
// substitute fakes the same way internal/storagemapper's tests do.
type graphStore interface {
	UpsertEvent(ctx context.Context, ev domain.GraphEvent) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type vectorStore interface {
	Upsert(ctx context.Context, events []domain.SemanticEvent) error
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

type collectorLookup interface {
	ListCollectors(ctx context.Context) ([]domain.CollectorConfig, error)
	UpsertSemanticKnowledge(ctx context.Context, pipelineID string, ev domain.GraphEvent) error
	DeleteSemanticKnowledgeByDocumentID(ctx context.Context, documentID string) error
	UpsertPipelineState(ctx context.Context, st domain.PipelineState) error
}

// Dependencies are the shared, long-lived collaborators every pipeline run
// draws on. They are constructed once per node and injected here, never
// per-pipeline.
type Dependencies struct {
	Sources  *source.Registry
	Graph    graphStore
	Vector   vectorStore
	Index    collectorLookup
	Embedder modelclient.Embedder
	Realtime *bus.Realtime
	Log      *slog.Logger
}

// Supervisor owns every running pipeline on this node.
type Supervisor struct {
	deps Dependencies
	log  *slog.Logger

	mu   sync.RWMutex
	runs map[string]*run
}

// NewSupervisor builds a Supervisor bound to deps.
func NewSupervisor(deps Dependencies) *Supervisor {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Supervisor{deps: deps, log: deps.Log, runs: make(map[string]*run)}
}

// run is one supervised pipeline's full actor graph and bookkeeping.
type run struct {
	id      string
	request domain.SemanticPipelineRequest
	log     *slog.Logger

	pool   *actor.Pool
	cancel context.CancelFunc

	rawTopic    *bus.Topic[domain.RawChunk]
	tokensTopic *bus.Topic[domain.IngestedTokens]
	eventsTopic *bus.Topic[domain.SemanticEvent]
	quarantine  *bus.Topic[storagemapper.QuarantinedEvent]

	sourceActors  []*source.SourceActor
	ingestorActor *ingestor.Actor
	engineActor   *engine.Actor
	mapperActor   *storagemapper.Actor
	streamerActor *eventstreamer.Actor

	sourceHandles   []*actor.Handle[source.Tick]
	ingestorHandle  *actor.Handle[domain.RawChunk]
	engineHandle    *actor.Handle[domain.IngestedTokens]
	mapperHandle    *actor.Handle[domain.SemanticEvent]
	streamerHandle  *actor.Handle[eventstreamer.Delta]
	streamerMailbox *actor.Mailbox[eventstreamer.Delta]

	statsStop chan struct{}
	statsDone chan struct{}

	mu        sync.Mutex
	status    domain.PipelineStatus
	startedAt time.Time
	lastErr   error
}

// Start instantiates and wires one pipeline run per spec §4.7: leaves
// first (Storage-Mapper, Event-Streamer), then Engine, then Ingestor, then
// every Source, unwinding in reverse and reporting ErrPipelineInitFailed
// if any stage's Initialize fails.
func (s *Supervisor) Start(ctx context.Context, req domain.SemanticPipelineRequest) (string, error) {
	pipelineID := uuid.NewString()
	log := s.log.With("pipeline_id", pipelineID)

	configs, err := s.resolveCollectors(ctx, req.Collectors)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPipelineInitFailed, err)
	}

	r := &run{
		id:          pipelineID,
		request:     req,
		log:         log,
		rawTopic:    bus.NewTopic[domain.RawChunk](),
		tokensTopic: bus.NewTopic[domain.IngestedTokens](),
		eventsTopic: bus.NewTopic[domain.SemanticEvent](),
		quarantine:  bus.NewTopic[storagemapper.QuarantinedEvent](),
		status:      domain.StatusInitializing,
	}

	r.mapperActor = storagemapper.NewActor(pipelineID, s.deps.Graph, s.deps.Vector, s.deps.Index, r.quarantine, s.deps.Realtime, log)
	r.streamerActor = eventstreamer.NewActor(pipelineID, s.deps.Realtime, eventstreamer.DefaultQuarantineWindow, log)
	r.engineActor = engine.NewActor(req.FixedEntities, req.SampleEntities, s.deps.Embedder, r.eventsTopic, log)
	r.ingestorActor = ingestor.NewActor(r.tokensTopic, log)

	for _, cfg := range configs {
		src, err := s.deps.Sources.Build(cfg)
		if err != nil {
			return "", fmt.Errorf("%w: build source %s: %v", domain.ErrPipelineInitFailed, cfg.ID, err)
		}
		interval := cfg.PollInterval
		if interval <= 0 {
			interval = defaultPollInterval
		}
		mailbox := actor.NewMailbox[source.Tick](1)
		r.sourceActors = append(r.sourceActors, source.NewSourceActor(cfg.ID, src, r.rawTopic, interval, mailbox, log))
	}

	if err := r.initializeLeavesFirst(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPipelineInitFailed, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.pool = actor.NewPool(runCtx, 1)
	r.spawn(s)
	r.status = domain.StatusRunning
	r.startedAt = time.Now()

	s.mu.Lock()
	s.runs[pipelineID] = r
	s.mu.Unlock()

	if err := s.deps.Index.UpsertPipelineState(ctx, domain.PipelineState{
		PipelineID: pipelineID, Request: req, Status: domain.StatusRunning, StartedAt: r.startedAt,
	}); err != nil {
		log.Warn("pipeline: persist initial state failed", "error", err)
	}

	go s.watch(r)
	return pipelineID, nil
}

func (s *Supervisor) resolveCollectors(ctx context.Context, ids []string) ([]domain.CollectorConfig, error) {
	all, err := s.deps.Index.ListCollectors(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.CollectorConfig, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	out := make([]domain.CollectorConfig, 0, len(ids))
	for _, id := range ids {
		cfg, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("collector %s: %w", id, domain.ErrConfigInvalid)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// initializeLeavesFirst calls Initialize on every actor in downstream-to-
// upstream order, so by the time a Source starts polling every consumer
// behind it is already ready. Actors already initialized when a later one
// fails are unwound by running their Finalize in reverse.
func (r *run) initializeLeavesFirst(ctx context.Context) error {
	type initialized struct {
		name     string
		finalize func()
	}
	var done []initialized

	unwind := func() {
		for i := len(done) - 1; i >= 0; i-- {
			done[i].finalize()
		}
	}

	abort := actor.Failure(errInitAborted)

	if err := r.mapperActor.Initialize(ctx); err != nil {
		return fmt.Errorf("storage_mapper: %w", err)
	}
	done = append(done, initialized{"storage_mapper", func() { r.mapperActor.Finalize(ctx, abort) }})

	if err := r.streamerActor.Initialize(ctx); err != nil {
		unwind()
		return fmt.Errorf("event_streamer: %w", err)
	}
	done = append(done, initialized{"event_streamer", func() { r.streamerActor.Finalize(ctx, abort) }})

	if err := r.engineActor.Initialize(ctx); err != nil {
		unwind()
		return fmt.Errorf("engine: %w", err)
	}
	done = append(done, initialized{"engine", func() { r.engineActor.Finalize(ctx, abort) }})

	if err := r.ingestorActor.Initialize(ctx); err != nil {
		unwind()
		return fmt.Errorf("ingestor: %w", err)
	}
	done = append(done, initialized{"ingestor", func() { r.ingestorActor.Finalize(ctx, abort) }})

	for _, sa := range r.sourceActors {
		sa := sa
		if err := sa.Initialize(ctx); err != nil {
			unwind()
			return fmt.Errorf("source %s: %w", sa.SourceID, err)
		}
		done = append(done, initialized{"source:" + sa.SourceID, func() { sa.Finalize(ctx, abort) }})
	}

	return nil
}

// errInitAborted is the ExitStatus error handed to Finalize during unwind.
// No Finalize implementation in this codebase inspects exit.Err(); only
// exit.Kind() drives branching, and Failure is the correct kind for an
// aborted init.
var errInitAborted = errors.New("pipeline: initialize aborted")

// spawn hands every actor to the runtime pool and wires the forwarder
// goroutines that bridge each stage's output Topic into the next stage's
// Mailbox. Every Handle is kept so Stop can cascade the shutdown
// stage-by-stage instead of relying solely on context cancellation.
func (r *run) spawn(s *Supervisor) {
	mapperMailbox := actor.NewMailbox[domain.SemanticEvent](64)
	r.mapperHandle = actor.Spawn(r.pool, actor.NonBlocking, r.mapperActor, mapperMailbox)
	forward(r.pool.Context(), r.eventsTopic, mapperMailbox, 64)

	r.streamerMailbox = actor.NewMailbox[eventstreamer.Delta](16)
	r.streamerHandle = actor.Spawn(r.pool, actor.NonBlocking, r.streamerActor, r.streamerMailbox)

	engineMailbox := actor.NewMailbox[domain.IngestedTokens](64)
	r.engineHandle = actor.Spawn(r.pool, actor.Blocking, r.engineActor, engineMailbox)
	forward(r.pool.Context(), r.tokensTopic, engineMailbox, 64)

	ingestorMailbox := actor.NewMailbox[domain.RawChunk](64)
	r.ingestorHandle = actor.Spawn(r.pool, actor.NonBlocking, r.ingestorActor, ingestorMailbox)
	forward(r.pool.Context(), r.rawTopic, ingestorMailbox, 64)

	for _, sa := range r.sourceActors {
		r.sourceHandles = append(r.sourceHandles, actor.Spawn(r.pool, actor.NonBlocking, sa, sa.Mailbox()))
	}

	r.statsStop = make(chan struct{})
	r.statsDone = make(chan struct{})
	go r.sampleStats(s, r.streamerMailbox)
}

// forward bridges a bus.Topic's fan-out into a single actor's mailbox; it
// exits (and closes the mailbox) once the topic subscription closes or ctx
// is cancelled, which is how a Stop cascades stage to stage.
func forward[T any](ctx context.Context, topic *bus.Topic[T], mailbox *actor.Mailbox[T], capacity int) {
	ch, unsub := topic.Subscribe(capacity)
	go func() {
		defer unsub()
		defer mailbox.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := mailbox.Send(msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// maxUnhealthyTicks bounds how many consecutive sampling ticks a
// downstream stage may show zero output progress while its upstream keeps
// producing work, before the pipeline is declared Failed. This is spec
// §4.7's proactive health check — distinct from watch(), which only reacts
// to a stage's terminal exit.
const maxUnhealthyTicks = 5

// sampleStats periodically diffs each stage's ObservableState and folds
// the delta into an eventstreamer.Delta, since the Event-Streamer itself
// never reads back from stores or other actors (spec §4.6) — the
// supervisor is what observes and forwards. It also runs the proactive
// health check: a stage is Unhealthy for a tick if upstream advanced but
// its own output didn't, and more than maxUnhealthyTicks of that in a row
// fails the pipeline.
func (r *run) sampleStats(s *Supervisor, streamerMailbox *actor.Mailbox[eventstreamer.Delta]) {
	defer close(r.statsDone)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastDocsOut, lastSegmentsIn, lastEventsReceived, lastEventsOut, lastWritten, lastQuarantined int64
	var unhealthyTicks int

	for {
		select {
		case <-ticker.C:
		case <-r.statsStop:
			return
		}

		docsOut := int64(0)
		if st, ok := r.ingestorState(); ok {
			docsOut = st.DocsOut
		}
		segmentsIn, eventsReceived, eventsOut := int64(0), int64(0), int64(0)
		if st, ok := r.engineState(); ok {
			segmentsIn = st.SegmentsIn
			eventsReceived = st.EventsReceived
			eventsOut = st.EventsOut
		}
		written, quarantined := int64(0), int64(0)
		if st, ok := r.mapperState(); ok {
			written, quarantined = st.Written, st.Quarantined
		}

		d := eventstreamer.Delta{
			Docs:         docsOut - lastDocsOut,
			Events:       eventsOut - lastEventsOut,
			Sentences:    segmentsIn - lastSegmentsIn,
			Subjects:     written - lastWritten,
			Predicates:   written - lastWritten,
			Objects:      written - lastWritten,
			GraphEvents:  written - lastWritten,
			VectorEvents: written - lastWritten,
			Received:     eventsReceived - lastEventsReceived,
			Sent:         eventsOut - lastEventsOut,
			Quarantine:   quarantined - lastQuarantined,
		}

		engineStalled := docsOut > lastDocsOut && segmentsIn == lastSegmentsIn
		mapperStalled := eventsOut > lastEventsOut && written+quarantined == lastWritten+lastQuarantined
		if engineStalled || mapperStalled {
			unhealthyTicks++
		} else {
			unhealthyTicks = 0
		}

		lastDocsOut, lastSegmentsIn, lastEventsReceived, lastEventsOut, lastWritten, lastQuarantined =
			docsOut, segmentsIn, eventsReceived, eventsOut, written, quarantined

		if unhealthyTicks > maxUnhealthyTicks {
			s.failUnhealthy(r, engineStalled, mapperStalled)
			return
		}

		if d == (eventstreamer.Delta{}) {
			continue
		}
		if err := streamerMailbox.Send(d); err != nil {
			return
		}
	}
}

// failUnhealthy transitions r to Failed after sampleStats observes a
// stalled downstream stage for too many consecutive ticks, then cancels
// the run so its actor pool unwinds the same way an actor-exit failure
// does (watch still fires and persists the final state).
func (s *Supervisor) failUnhealthy(r *run, engineStalled, mapperStalled bool) {
	stage := "engine"
	if mapperStalled && !engineStalled {
		stage = "storage-mapper"
	}
	r.mu.Lock()
	if r.status == domain.StatusRunning || r.status == domain.StatusInitializing || r.status == domain.StatusDraining {
		r.status = domain.StatusFailed
		r.lastErr = fmt.Errorf("%w: stage %s unhealthy for more than %d consecutive ticks", domain.ErrPipelineFailed, stage, maxUnhealthyTicks)
	}
	r.mu.Unlock()
	r.log.Error("pipeline: stage unhealthy, failing pipeline", "stage", stage)
	r.cancel()
}

func (r *run) ingestorState() (ingestor.State, bool) {
	st, ok := r.ingestorActor.ObservableState().(ingestor.State)
	return st, ok
}

func (r *run) engineState() (engine.State, bool) {
	st, ok := r.engineActor.ObservableState().(engine.State)
	return st, ok
}

func (r *run) mapperState() (storagemapper.State, bool) {
	st, ok := r.mapperActor.ObservableState().(storagemapper.State)
	return st, ok
}

// watch waits until every actor in the pool has exited and, if any exit was
// fatal, flips the pipeline to Failed, per spec §7's PipelineFailed
// sentinel.
func (s *Supervisor) watch(r *run) {
	err := r.pool.Wait()
	r.mu.Lock()
	if r.status != domain.StatusStopped && r.status != domain.StatusFailed {
		if err != nil {
			r.status = domain.StatusFailed
			r.lastErr = fmt.Errorf("%w: %v", domain.ErrPipelineFailed, err)
		} else {
			r.status = domain.StatusStopped
		}
	}
	status := r.status
	r.mu.Unlock()

	if err := s.deps.Index.UpsertPipelineState(context.Background(), domain.PipelineState{
		PipelineID: r.id, Request: r.request, Status: status, StartedAt: r.startedAt,
	}); err != nil {
		r.log.Warn("pipeline: persist final state failed", "error", err)
	}
}

// Observe summarizes every known pipeline's lifecycle bucket.
func (s *Supervisor) Observe() domain.SemanticServiceCounters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counters domain.SemanticServiceCounters
	for _, r := range s.runs {
		r.mu.Lock()
		switch r.status {
		case domain.StatusRunning, domain.StatusInitializing, domain.StatusDraining:
			counters.Running++
		case domain.StatusStopped:
			counters.Succeeded++
		case domain.StatusFailed:
			counters.Failed++
		}
		r.mu.Unlock()
	}
	return counters
}

// Describe returns one pipeline's current IndexingStatistics.
func (s *Supervisor) Describe(pipelineID string) (domain.IndexingStatistics, error) {
	r, err := s.lookup(pipelineID)
	if err != nil {
		return domain.IndexingStatistics{}, err
	}
	return r.streamerActor.Describe(), nil
}

// ListPipelines returns a listing-friendly projection of every known
// pipeline, for the control plane's ListPipelineInfo operation.
func (s *Supervisor) ListPipelines() []domain.PipelineRequestInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PipelineRequestInfo, 0, len(s.runs))
	for _, r := range s.runs {
		r.mu.Lock()
		out = append(out, domain.PipelineRequestInfo{PipelineID: r.id, Request: r.request, Status: r.status})
		r.mu.Unlock()
	}
	return out
}

// Stop injects a graceful-drain signal at every Source, then cascades the
// shutdown stage by stage: each Topic is only closed once every actor
// feeding it has exited, so a stage always finishes draining its own
// inbox (and, for the Storage-Mapper, resolving its in-flight writes)
// before the stage behind it is torn down (spec §4.7).
func (s *Supervisor) Stop(pipelineID string) error {
	r, err := s.lookup(pipelineID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.status = domain.StatusDraining
	r.mu.Unlock()

	var exits []actor.ExitStatus

	for _, sa := range r.sourceActors {
		sa.Mailbox().Stop()
	}
	for _, h := range r.sourceHandles {
		exits = append(exits, h.Exit())
	}

	r.rawTopic.Close()
	exits = append(exits, r.ingestorHandle.Exit())

	r.tokensTopic.Close()
	exits = append(exits, r.engineHandle.Exit())

	r.eventsTopic.Close()
	exits = append(exits, r.mapperHandle.Exit())

	close(r.statsStop)
	<-r.statsDone
	r.streamerMailbox.Close()
	exits = append(exits, r.streamerHandle.Exit())

	r.cancel()
	poolErr := r.pool.Wait()

	var fatal error
	for _, exit := range exits {
		if exit.Fatal() {
			fatal = errors.Join(fatal, exit.Err())
		}
	}
	if poolErr != nil {
		fatal = errors.Join(fatal, poolErr)
	}

	r.mu.Lock()
	if fatal != nil {
		r.status = domain.StatusFailed
		r.lastErr = fmt.Errorf("%w: %v", domain.ErrPipelineFailed, fatal)
	} else {
		r.status = domain.StatusStopped
	}
	stopErr := r.lastErr
	r.mu.Unlock()

	return stopErr
}

// Restart is stop + start with the same request, minting a new pipeline
// id (spec §4.7).
func (s *Supervisor) Restart(ctx context.Context, pipelineID string) (string, error) {
	r, err := s.lookup(pipelineID)
	if err != nil {
		return "", err
	}
	req := r.request
	if err := s.Stop(pipelineID); err != nil {
		return "", err
	}
	return s.Start(ctx, req)
}

// Ingest pushes pre-tokenized documents directly into a running
// pipeline's Ingestor stage, bypassing both Source and the
// Validate/Extract/Segment pipeline — the realtime push path (spec
// §4.7's ingest operation). Each IngestedTokens is already one
// document's worth of segments, so it is counted and published as one
// document; it must not be fanned out into one RawChunk per segment,
// which would inflate total_docs by len(Data) instead of 1 (spec §8
// scenario 2).
func (s *Supervisor) Ingest(pipelineID string, tokens []domain.IngestedTokens) error {
	r, err := s.lookup(pipelineID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	if status != domain.StatusRunning {
		return fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrPipelineFailed)
	}
	for _, t := range tokens {
		r.ingestorActor.HandlePretokenized(t)
		obsmetrics.RecordEventReceived(pipelineID, "ingest_push")
	}
	return nil
}

func (s *Supervisor) lookup(pipelineID string) (*run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[pipelineID]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrPipelineNotFound)
	}
	return r, nil
}
