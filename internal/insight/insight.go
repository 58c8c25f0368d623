// Package insight runs stateful analysis sessions against a registered
// insight plugin: a conversational RAG "chat" insight and a structured
// one-shot "graph_summary" insight ship built in. Adapted from the
// teacher's engine/rag.Service (embed -> search -> enrich -> answer), its
// conversational loop generalized into a session with turn history, and
// generalized from one fixed pipeline into a registry so callers can
// plug in additional insight kinds without touching Service.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querent-ai/querent/internal/domain"
)

// Insight is one pluggable analysis kind. Conversational insights keep a
// ConversationTurn history across Prompt calls; one-shot insights ignore
// history and return a fresh answer every call.
type Insight interface {
	Metadata() Metadata
	Prompt(ctx context.Context, session *domain.InsightSession, input string) (string, error)
}

// Metadata describes an insight for listing/registration, mirroring the
// teacher's rag.Options surface generalized into a plugin descriptor.
type Metadata struct {
	ID             string
	Name           string
	Description    string
	Premium        bool
	Conversational bool
	OptionsSchema  map[string]string // option key -> human-readable description
}

// Registry holds every insight kind a node knows how to run.
type Registry struct {
	mu       sync.RWMutex
	insights map[string]Insight
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{insights: make(map[string]Insight)}
}

// Register adds an insight under its own Metadata.ID.
func (r *Registry) Register(ins Insight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insights[ins.Metadata().ID] = ins
}

// Get looks up a registered insight by id.
func (r *Registry) Get(id string) (Insight, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.insights[id]
	return ins, ok
}

// List returns every registered insight's metadata.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.insights))
	for _, ins := range r.insights {
		out = append(out, ins.Metadata())
	}
	return out
}

// Service owns every live InsightSession, dispatching Prompt calls to the
// session's registered insight.
type Service struct {
	registry *Registry
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.InsightSession
}

// NewService builds a Service bound to a populated Registry.
func NewService(registry *Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{registry: registry, log: log, sessions: make(map[string]*domain.InsightSession)}
}

// CreateSession opens a new session for insightID, optionally scoped to a
// discovery session or semantic pipeline for insights that read graph/
// vector context.
func (s *Service) CreateSession(insightID, discoverySessionID, pipelineID string, options map[string]string) (string, error) {
	if _, ok := s.registry.Get(insightID); !ok {
		return "", fmt.Errorf("insight %s: %w", insightID, domain.ErrSessionNotFound)
	}
	sess := &domain.InsightSession{
		SessionID:          uuid.NewString(),
		InsightID:          insightID,
		DiscoverySessionID: discoverySessionID,
		SemanticPipelineID: pipelineID,
		Options:            options,
		Status:             domain.InsightStatusActive,
	}
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()
	return sess.SessionID, nil
}

// Prompt feeds input to a session's insight and appends the exchange to
// the session's history. A non-conversational insight still appends one
// turn, so ListSessions shows its most recent answer.
func (s *Service) Prompt(ctx context.Context, sessionID, input string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("insight session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if sess.Status != domain.InsightStatusActive {
		return "", fmt.Errorf("insight session %s is stopped: %w", sessionID, domain.ErrInvalidArguments)
	}

	ins, ok := s.registry.Get(sess.InsightID)
	if !ok {
		return "", fmt.Errorf("insight %s: %w", sess.InsightID, domain.ErrSessionNotFound)
	}

	reply, err := ins.Prompt(ctx, sess, input)
	if err != nil {
		return "", &domain.InsightError{Cause: err}
	}

	s.mu.Lock()
	sess.History = append(sess.History, domain.ConversationTurn{Query: input, Response: reply, At: time.Now()})
	s.mu.Unlock()
	return reply, nil
}

// StopSession ends a session; the insight itself is stateless between
// calls, so stopping only flips the session's status.
func (s *Service) StopSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("insight session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	sess.Status = domain.InsightStatusStopped
	return nil
}

// ListSessions returns every session, active or stopped.
func (s *Service) ListSessions() []domain.InsightSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.InsightSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}
