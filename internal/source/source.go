// Package source adapts external collector backends (object stores,
// drives, file trees, email, issue trackers, chat, news feeds, CRM, OSDU)
// into the Semantic Pipeline's first stage. Every adaptor implements
// Source; SourceActor drives polling adaptors on a ticker and publishes
// RawChunks onto the pipeline bus, grounded on the teacher's cmd/ingest
// directory-scan loop generalized from a single file-tree watcher into an
// actor-driven, per-collector-kind poll cycle.
package source

import (
	"context"

	"github.com/querent-ai/querent/internal/domain"
)

// Source is the contract every collector backend implements. Poll is
// called repeatedly; it returns whatever new RawChunks have appeared
// since the last call, plus an opaque Checkpoint a restart can Resume
// from.
type Source interface {
	// Open establishes the backend connection/handle. Called once before
	// the first Poll.
	Open(ctx context.Context) error
	// Poll returns the next batch of chunks, or an empty slice if nothing
	// new is available. A nil error with zero chunks is not a failure.
	Poll(ctx context.Context) ([]domain.RawChunk, error)
	// Checkpoint returns an opaque token capturing current poll position.
	Checkpoint() string
	// Resume restores poll position from a token previously returned by
	// Checkpoint. Called after Open, before the first Poll.
	Resume(token string) error
	// Close releases backend resources.
	Close() error
}

// Factory builds a Source from its registered configuration.
type Factory func(domain.CollectorConfig) (Source, error)

// Registry maps CollectorKind to the Factory that constructs it.
type Registry struct {
	factories map[domain.CollectorKind]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.CollectorKind]Factory)}
}

// Register binds a Factory to a CollectorKind.
func (r *Registry) Register(kind domain.CollectorKind, f Factory) {
	r.factories[kind] = f
}

// Build constructs a Source for the given config using its registered
// Factory, or ErrConfigInvalid if no Factory is registered for the kind.
func (r *Registry) Build(cfg domain.CollectorConfig) (Source, error) {
	f, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, domain.NewValidationError("kind", string(cfg.Kind), domain.ErrConfigInvalid)
	}
	return f(cfg)
}
