// Package actor implements the execution substrate described in spec §4.1:
// typed mailboxes, single-threaded-per-actor message handling, supervised
// exit propagation, and a split between a cooperative (I/O-bound) and a
// blocking (CPU-bound) worker pool.
//
// The shape is grounded on the teacher's pkg/resilience package (functional
// options, a small mutex-guarded state machine) and on the actor.Mailbox /
// Poll pattern used by PingCAP's ticdc actor runtime (see
// other_examples/2df0b7c7_duanhuichao-tiflow...actor.go.go), generalized
// here into a standalone, importable package instead of a single
// per-process singleton.
package actor

import (
	"context"
	"fmt"
)

// ExitStatus is the sum type describing how an actor terminated.
type ExitStatus struct {
	kind ExitKind
	err  error
}

// ExitKind enumerates the terminal states an actor can reach.
type ExitKind int

const (
	ExitSuccess ExitKind = iota
	ExitQuit
	ExitKilled
	ExitFailure
	ExitDownstreamClosed
	ExitPanicked
)

func (k ExitKind) String() string {
	switch k {
	case ExitSuccess:
		return "success"
	case ExitQuit:
		return "quit"
	case ExitKilled:
		return "killed"
	case ExitFailure:
		return "failure"
	case ExitDownstreamClosed:
		return "downstream_closed"
	case ExitPanicked:
		return "panicked"
	default:
		return "unknown"
	}
}

func Success() ExitStatus                { return ExitStatus{kind: ExitSuccess} }
func Quit() ExitStatus                   { return ExitStatus{kind: ExitQuit} }
func Killed() ExitStatus                 { return ExitStatus{kind: ExitKilled} }
func DownstreamClosed() ExitStatus       { return ExitStatus{kind: ExitDownstreamClosed} }
func Failure(err error) ExitStatus       { return ExitStatus{kind: ExitFailure, err: err} }
func Panicked(recovered any) ExitStatus {
	return ExitStatus{kind: ExitPanicked, err: fmt.Errorf("panic: %v", recovered)}
}

func (s ExitStatus) Kind() ExitKind { return s.kind }
func (s ExitStatus) Err() error     { return s.err }

// Fatal reports whether this exit should flip the owning pipeline to Failed.
func (s ExitStatus) Fatal() bool {
	return s.kind == ExitFailure || s.kind == ExitPanicked
}

// DrainUpstream reports whether this exit should trigger an orderly drain
// of the stages feeding this actor.
func (s ExitStatus) DrainUpstream() bool {
	return s.kind == ExitDownstreamClosed
}

func (s ExitStatus) String() string {
	if s.err != nil {
		return fmt.Sprintf("%s: %v", s.kind, s.err)
	}
	return s.kind.String()
}

// RuntimeKind selects which worker pool an actor runs under.
type RuntimeKind int

const (
	// NonBlocking actors run on the cooperative pool (I/O-bound: Source,
	// Storage-Mapper, Event-Streamer).
	NonBlocking RuntimeKind = iota
	// Blocking actors run on the dedicated worker pool (CPU-bound: Engine).
	Blocking
)

// Behavior is the contract every actor implements (spec §4.1).
type Behavior[T any] interface {
	// Initialize runs once before any message is processed; a failing
	// Initialize is fatal and unwinds the owning pipeline.
	Initialize(ctx context.Context) error
	// Handle processes one message. Handlers run sequentially per actor;
	// no concurrent mutation of actor state is possible.
	Handle(ctx context.Context, msg T) error
	// OnDrained is invoked whenever the inbox becomes empty; stages use it
	// to flush partial batches.
	OnDrained(ctx context.Context)
	// Finalize runs exactly once on termination, on every exit path.
	Finalize(ctx context.Context, exit ExitStatus)
	// ObservableState returns a snapshot value safe to publish externally.
	ObservableState() any
}
