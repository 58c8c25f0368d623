package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/querent-ai/querent/internal/actor"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/domain"
)

// Tick drives one poll cycle. SourceActor feeds its own mailbox from an
// internal ticker; external callers never send Ticks directly.
type Tick struct{}

// SourceActor runs a Source on a fixed poll interval and publishes every
// chunk it returns onto out. It is a NonBlocking actor: Poll calls are
// I/O-bound network/filesystem reads, not CPU work.
type SourceActor struct {
	SourceID string
	src      Source
	out      *bus.Topic[domain.RawChunk]
	interval time.Duration
	mailbox  *actor.Mailbox[Tick]
	log      *slog.Logger

	resumeToken string
	stopTick    chan struct{}
	polls       int64
	chunksSent  int64
	lastErr     error

	initialized bool
}

// NewSourceActor wires src to publish onto out every interval.
func NewSourceActor(sourceID string, src Source, out *bus.Topic[domain.RawChunk], interval time.Duration, mailbox *actor.Mailbox[Tick], log *slog.Logger) *SourceActor {
	if log == nil {
		log = slog.Default()
	}
	return &SourceActor{
		SourceID: sourceID,
		src:      src,
		out:      out,
		interval: interval,
		mailbox:  mailbox,
		log:      log,
		stopTick: make(chan struct{}),
	}
}

// Initialize opens the backend and starts the poll ticker. The pipeline
// supervisor calls this directly as part of its leaves-first initialize
// ordering (spec §4.7), before the actor runtime's own Spawn calls it
// again as Behavior.Initialize; the guard keeps the second call a no-op
// so the source is never opened or ticked twice.
func (a *SourceActor) Initialize(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	if err := a.src.Open(ctx); err != nil {
		return err
	}
	if a.resumeToken != "" {
		if err := a.src.Resume(a.resumeToken); err != nil {
			return err
		}
	}
	a.initialized = true
	go a.tickLoop(ctx)
	// prime one poll immediately rather than waiting a full interval.
	_ = a.mailbox.TrySend(Tick{})
	return nil
}

func (a *SourceActor) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// TrySend: if the previous poll is still being handled, skip
			// this tick rather than piling up pending ticks.
			_ = a.mailbox.TrySend(Tick{})
		case <-a.stopTick:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (a *SourceActor) Handle(ctx context.Context, _ Tick) error {
	a.polls++
	chunks, err := a.src.Poll(ctx)
	if err != nil {
		a.lastErr = err
		a.log.Warn("source poll failed", "source_id", a.SourceID, "error", err)
		return err
	}
	for _, c := range chunks {
		a.out.Publish(c)
		a.chunksSent++
	}
	return nil
}

func (a *SourceActor) OnDrained(ctx context.Context) {}

func (a *SourceActor) Finalize(ctx context.Context, exit actor.ExitStatus) {
	close(a.stopTick)
	if err := a.src.Close(); err != nil {
		a.log.Warn("source close failed", "source_id", a.SourceID, "error", err)
	}
}

// Mailbox returns the actor's inbox, for the pipeline supervisor to spawn
// it onto the runtime pool and to send it a stop control signal.
func (a *SourceActor) Mailbox() *actor.Mailbox[Tick] { return a.mailbox }

// SourceActorState is the ObservableState snapshot for a SourceActor.
type SourceActorState struct {
	SourceID   string
	Polls      int64
	ChunksSent int64
	Checkpoint string
	LastErr    error
}

func (a *SourceActor) ObservableState() any {
	return SourceActorState{
		SourceID:   a.SourceID,
		Polls:      a.polls,
		ChunksSent: a.chunksSent,
		Checkpoint: a.src.Checkpoint(),
		LastErr:    a.lastErr,
	}
}
