package ingestor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/fn"
)

// Actor runs the Validate->Extract->Segment pipeline over each RawChunk it
// receives and publishes the resulting IngestedTokens downstream.
// Recoverable ParseErrors are logged and skipped; non-recoverable ones
// abort only the current document, never the actor itself (spec §7).
type Actor struct {
	pipeline fn.Stage[domain.RawChunk, domain.IngestedTokens]
	out      *bus.Topic[domain.IngestedTokens]
	log      *slog.Logger

	docsIn      int64
	docsOut     int64
	docsSkipped int64
}

// NewActor builds an Actor publishing onto out.
func NewActor(out *bus.Topic[domain.IngestedTokens], log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	return &Actor{pipeline: NewPipeline(log), out: out, log: log}
}

func (a *Actor) Initialize(ctx context.Context) error { return nil }

func (a *Actor) Handle(ctx context.Context, chunk domain.RawChunk) error {
	a.docsIn++
	result := a.pipeline(ctx, chunk)
	tokens, err := result.Unwrap()
	if err != nil {
		var parseErr *domain.ParseError
		if errors.As(err, &parseErr) && parseErr.Recoverable {
			a.docsSkipped++
			a.log.Warn("ingestor: skipping document", "document_id", chunk.DocumentID, "error", err)
			return nil
		}
		a.docsSkipped++
		a.log.Error("ingestor: document aborted", "document_id", chunk.DocumentID, "error", err)
		return nil
	}
	a.out.Publish(tokens)
	a.docsOut++
	return nil
}

// HandlePretokenized publishes tokens unchanged, counting it as exactly
// one document — the realtime Ingest push path bypasses
// Validate/Extract/Segment entirely since its caller already supplies
// pre-segmented IngestedTokens, so re-running Segment over it must not
// inflate the document count by one per segment.
func (a *Actor) HandlePretokenized(tokens domain.IngestedTokens) {
	a.docsIn++
	a.out.Publish(tokens)
	a.docsOut++
}

func (a *Actor) OnDrained(ctx context.Context) {}

func (a *Actor) Finalize(ctx context.Context, exit actor.ExitStatus) {}

// State is the ObservableState snapshot for an Actor.
type State struct {
	DocsIn      int64
	DocsOut     int64
	DocsSkipped int64
}

func (a *Actor) ObservableState() any {
	return State{DocsIn: a.docsIn, DocsOut: a.docsOut, DocsSkipped: a.docsSkipped}
}
