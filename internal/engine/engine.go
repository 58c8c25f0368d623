package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/modelclient"
)

// eventIDNamespace scopes the deterministic content-hash IDs this package
// mints, matching the teacher's uuid.NewSHA1(uuid.NameSpaceURL, ...) point
// ID derivation in engine/ingest's Store stage.
var eventIDNamespace = uuid.NameSpaceURL

// deriveEventID produces a stable id from a triple's full provenance, so
// re-processing the same document never mints duplicate events — the
// Storage-Mapper's idempotent upsert depends on this.
func deriveEventID(documentID string, segmentIndex int, subject, object, predicate string) string {
	key := fmt.Sprintf("%s|%d|%s|%s|%s", documentID, segmentIndex, subject, object, predicate)
	return uuid.NewSHA1(eventIDNamespace, []byte(key)).String()
}

// Actor runs extraction over each IngestedTokens batch it receives,
// embeds every derived sentence, and publishes SemanticEvents. It is a
// Blocking actor: regex matching and (usually local) embedding calls are
// CPU-bound relative to the cooperative pool's I/O-bound actors.
type Actor struct {
	extractor *Extractor
	embedder  modelclient.Embedder
	out       *bus.Topic[domain.SemanticEvent]
	log       *slog.Logger

	segmentsIn     int64
	eventsReceived int64
	eventsOut      int64
}

// NewActor builds an engine Actor. fixedEntities/sampleEntities come from
// the owning SemanticPipelineRequest.
func NewActor(fixedEntities, sampleEntities []string, embedder modelclient.Embedder, out *bus.Topic[domain.SemanticEvent], log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	return &Actor{
		extractor: NewExtractor(fixedEntities, sampleEntities),
		embedder:  embedder,
		out:       out,
		log:       log,
	}
}

func (a *Actor) Initialize(ctx context.Context) error { return nil }

func (a *Actor) Handle(ctx context.Context, tokens domain.IngestedTokens) error {
	for segIdx, segment := range tokens.Data {
		a.segmentsIn++
		a.eventsReceived += int64(a.extractor.CandidateCount(segment))
		graphEvents := a.extractor.ExtractSentence(segment, tokens.File, tokens.SourceID, "")
		if len(graphEvents) == 0 {
			continue
		}

		sentences := make([]string, len(graphEvents))
		for i, ge := range graphEvents {
			sentences[i] = ge.Sentence
		}
		embeddings, err := a.embedder.EmbedBatch(ctx, sentences)
		if err != nil {
			a.log.Warn("engine: embed batch failed", "document_id", tokens.File, "error", err)
			continue
		}

		for i, ge := range graphEvents {
			ge.EventID = deriveEventID(tokens.File, segIdx, ge.Subject, ge.Object, ge.Predicate)
			var embedding []float32
			if i < len(embeddings) {
				embedding = embeddings[i]
			}
			a.out.Publish(domain.SemanticEvent{
				Graph:  ge,
				Vector: domain.VectorEvent{EventID: ge.EventID, Embedding: embedding},
			})
			a.eventsOut++
		}
	}
	return nil
}

func (a *Actor) OnDrained(ctx context.Context) {}

func (a *Actor) Finalize(ctx context.Context, exit actor.ExitStatus) {}

// State is the ObservableState snapshot for an Actor. EventsReceived counts
// candidate entity-mention pairs before fixed_entities filtering;
// EventsReceived-EventsOut is the fixed-entity drop count spec §4.4 asks
// DescribePipeline to surface via events_received/events_sent.
type State struct {
	SegmentsIn     int64
	EventsReceived int64
	EventsOut      int64
}

func (a *Actor) ObservableState() any {
	return State{SegmentsIn: a.segmentsIn, EventsReceived: a.eventsReceived, EventsOut: a.eventsOut}
}
