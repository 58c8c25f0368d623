package actor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool supervises the two worker groups spec §4.1 calls for: a cooperative
// pool for non-blocking (I/O-bound) actors and a dedicated pool for
// blocking (CPU-bound) actors such as the Engine. Each is a
// golang.org/x/sync/errgroup.Group; only the blocking group carries a
// concurrency ceiling. A first fatal actor exit cancels the pool's context
// and propagates to every actor sharing it, mirroring the teacher's pkg/resilience approach of a single
// mutex-guarded supervisor rather than one goroutine per concern.
type Pool struct {
	nonBlocking *errgroup.Group
	blocking    *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewPool builds a Pool bound to ctx. blockingWorkers caps concurrent
// Blocking actors (0 means unlimited); non-blocking actors are never
// capped since they spend most of their time waiting on I/O.
func NewPool(ctx context.Context, blockingWorkers int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	nb, nbCtx := errgroup.WithContext(ctx)
	b, _ := errgroup.WithContext(nbCtx)
	if blockingWorkers > 0 {
		b.SetLimit(blockingWorkers)
	}
	return &Pool{nonBlocking: nb, blocking: b, ctx: nbCtx, cancel: cancel}
}

// Context is cancelled as soon as any supervised actor returns a non-nil
// error, or when Cancel is called explicitly.
func (p *Pool) Context() context.Context { return p.ctx }

// Cancel stops every actor in the pool.
func (p *Pool) Cancel() { p.cancel() }

// Wait blocks until every spawned actor in both groups has returned.
func (p *Pool) Wait() error {
	errB := p.blocking.Wait()
	errNB := p.nonBlocking.Wait()
	if errB != nil {
		return errB
	}
	return errNB
}

// Handle is a running actor's external face: its mailbox, its terminal
// ExitStatus once available, and a snapshot of its last observed state.
type Handle[T any] struct {
	Mailbox *Mailbox[T]
	done    chan ExitStatus
	state   atomic.Value
}

// Exit blocks until the actor has finalized and returns its ExitStatus.
func (h *Handle[T]) Exit() ExitStatus { return <-h.done }

// State returns the most recent ObservableState snapshot, or nil if the
// actor has not reported one yet.
func (h *Handle[T]) State() any { return h.state.Load() }

// Spawn starts b's message loop on the pool under the given RuntimeKind and
// returns a Handle for interacting with it. The loop runs Initialize once,
// then alternates between draining the control channel (priority) and the
// inbox, invoking OnDrained whenever the inbox empties, and always runs
// Finalize exactly once regardless of exit path — including recovering
// from a panic in Handle, which is reported as ExitPanicked rather than
// crashing the pool.
func Spawn[T any](pool *Pool, kind RuntimeKind, b Behavior[T], mailbox *Mailbox[T]) *Handle[T] {
	h := &Handle[T]{Mailbox: mailbox, done: make(chan ExitStatus, 1)}

	run := func() (exitErr error) {
		exit := runLoop(pool.Context(), b, mailbox, h)
		h.done <- exit
		close(h.done)
		if exit.Fatal() {
			pool.cancel()
			return exit.Err()
		}
		return nil
	}

	switch kind {
	case Blocking:
		pool.blocking.Go(run)
	default:
		pool.nonBlocking.Go(run)
	}
	return h
}

func runLoop[T any](ctx context.Context, b Behavior[T], mailbox *Mailbox[T], h *Handle[T]) (exit ExitStatus) {
	defer func() {
		if r := recover(); r != nil {
			exit = Panicked(r)
		}
		b.Finalize(ctx, exit)
	}()

	if err := b.Initialize(ctx); err != nil {
		return Failure(err)
	}

	paused := false
	for {
		if paused {
			select {
			case c := <-mailbox.control:
				if status, done := applyControl(c, &paused); done {
					return status
				}
				continue
			case <-ctx.Done():
				return Killed()
			}
		}

		// Control signals take priority over any message already queued.
		select {
		case c := <-mailbox.control:
			if status, done := applyControl(c, &paused); done {
				return status
			}
			continue
		default:
		}

		select {
		case c := <-mailbox.control:
			if status, done := applyControl(c, &paused); done {
				return status
			}
		case <-ctx.Done():
			return Killed()
		case msg, ok := <-mailbox.inbox:
			if !ok {
				b.OnDrained(ctx)
				return Success()
			}
			if err := b.Handle(ctx, msg); err != nil {
				return Failure(err)
			}
			h.state.Store(b.ObservableState())
			drainIdle(ctx, b, mailbox)
		}
	}
}

// drainIdle calls OnDrained once the inbox has no message queued right
// now, giving window/batch-flush logic a clear "nothing pending" signal
// without waiting on a fixed timer or consuming a message it can't hand
// back to the main loop.
func drainIdle[T any](ctx context.Context, b Behavior[T], mailbox *Mailbox[T]) {
	if ctx.Err() != nil {
		return
	}
	if len(mailbox.inbox) == 0 {
		b.OnDrained(ctx)
	}
}

func applyControl(c control, paused *bool) (ExitStatus, bool) {
	switch c {
	case controlStop:
		return Quit(), true
	case controlPause:
		*paused = true
	case controlResume:
		*paused = false
	}
	return ExitStatus{}, false
}
