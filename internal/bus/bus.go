// Package bus connects pipeline stages. Within one pipeline's process the
// bus is a typed in-memory fan-out over actor mailboxes; across process
// boundaries (the realtime IngestTokens push path, and the quarantine
// queue a permanently failing Storage-Mapper writes to) it is backed by
// NATS via the teacher's pkg/natsutil helpers.
package bus

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/querent-ai/querent/pkg/natsutil"
)

// Topic is a multi-producer, multi-consumer in-process fan-out channel.
// Each Subscribe call gets its own bounded channel; when a slow
// subscriber's channel is full, Publish drops the message for that
// subscriber only and never blocks the publisher or other subscribers.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs map[int]chan T
	next int
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive-only channel of capacity, and an unsubscribe
// function that must be called when the consumer is done.
func (t *Topic[T]) Subscribe(capacity int) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	ch := make(chan T, capacity)
	t.subs[id] = ch
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Publish fans v out to every current subscriber. A subscriber whose
// channel is full is skipped rather than blocking the publisher — pipeline
// backpressure is enforced at the actor mailbox one stage upstream, not
// here, since fan-out to N observers must not stall the other N-1.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close tears down every subscriber channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// Realtime is the cross-process leg of the bus: a NATS connection used for
// the realtime IngestTokens push path and for quarantined events.
type Realtime struct {
	nc *nats.Conn
}

// NewRealtime wraps an established NATS connection.
func NewRealtime(nc *nats.Conn) *Realtime {
	return &Realtime{nc: nc}
}

// Publish sends v as a JSON-encoded message on subject, with trace context
// propagated through NATS headers.
func Publish[T any](ctx context.Context, r *Realtime, subject string, v T) error {
	return natsutil.Publish(ctx, r.nc, subject, v)
}

// Subscribe registers a handler for subject; malformed payloads are
// dropped rather than crashing the subscriber.
func Subscribe[T any](r *Realtime, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return natsutil.Subscribe(r.nc, subject, handler)
}

// Subjects used by the pipeline's cross-process bus.
const (
	SubjectIngestTokens      = "querent.ingest.tokens"
	SubjectQuarantine        = "querent.storage.quarantine"
	SubjectIndexingStats     = "querent.pipeline.stats"
)
