package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/querent-ai/querent/internal/domain"
)

// UpsertCollector persists a CollectorConfig, keyed by id.
func (s *Store) UpsertCollector(ctx context.Context, cfg domain.CollectorConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("index: marshal collector config: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO collector_config (id, name, kind, config, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, kind = $3, config = $4`,
		cfg.ID, cfg.Name, string(cfg.Kind), raw, cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert collector %s: %v", domain.ErrStoreTransient, cfg.ID, err)
	}
	return nil
}

// DeleteCollectors removes collector configs by id.
func (s *Store) DeleteCollectors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM collector_config WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("%w: delete collectors: %v", domain.ErrStoreTransient, err)
	}
	return nil
}

// ListCollectors returns every registered collector config.
func (s *Store) ListCollectors(ctx context.Context) ([]domain.CollectorConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT config FROM collector_config ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: list collectors: %v", domain.ErrStoreTransient, err)
	}
	defer rows.Close()

	var out []domain.CollectorConfig
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("index: scan collector: %w", err)
		}
		var cfg domain.CollectorConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("index: unmarshal collector: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// UpsertPipelineState persists a pipeline's lifecycle snapshot.
func (s *Store) UpsertPipelineState(ctx context.Context, st domain.PipelineState) error {
	req, err := json.Marshal(st.Request)
	if err != nil {
		return fmt.Errorf("index: marshal pipeline request: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pipeline_state (pipeline_id, request, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pipeline_id) DO UPDATE SET status = $3, updated_at = now()`,
		st.PipelineID, req, string(st.Status), st.StartedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert pipeline state %s: %v", domain.ErrStoreTransient, st.PipelineID, err)
	}
	return nil
}

// GetPipelineState fetches one pipeline's state by id.
func (s *Store) GetPipelineState(ctx context.Context, pipelineID string) (domain.PipelineState, error) {
	var st domain.PipelineState
	var req []byte
	var status string
	row := s.db.QueryRow(ctx, `SELECT pipeline_id, request, status, started_at FROM pipeline_state WHERE pipeline_id = $1`, pipelineID)
	if err := row.Scan(&st.PipelineID, &req, &status, &st.StartedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PipelineState{}, fmt.Errorf("pipeline %s: %w", pipelineID, domain.ErrPipelineNotFound)
		}
		return domain.PipelineState{}, fmt.Errorf("%w: get pipeline state: %v", domain.ErrStoreTransient, err)
	}
	st.Status = domain.PipelineStatus(status)
	if err := json.Unmarshal(req, &st.Request); err != nil {
		return domain.PipelineState{}, fmt.Errorf("index: unmarshal pipeline request: %w", err)
	}
	return st, nil
}

// ListPipelines returns every pipeline's listing-friendly projection.
func (s *Store) ListPipelines(ctx context.Context) ([]domain.PipelineRequestInfo, error) {
	rows, err := s.db.Query(ctx, `SELECT pipeline_id, request, status FROM pipeline_state ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: list pipelines: %v", domain.ErrStoreTransient, err)
	}
	defer rows.Close()

	var out []domain.PipelineRequestInfo
	for rows.Next() {
		var info domain.PipelineRequestInfo
		var req []byte
		var status string
		if err := rows.Scan(&info.PipelineID, &req, &status); err != nil {
			return nil, fmt.Errorf("index: scan pipeline: %w", err)
		}
		info.Status = domain.PipelineStatus(status)
		if err := json.Unmarshal(req, &info.Request); err != nil {
			return nil, fmt.Errorf("index: unmarshal pipeline request: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// UpsertSemanticKnowledge writes one GraphEvent's relational projection,
// keyed by event_id so the Storage-Mapper's idempotent upsert holds here
// too.
func (s *Store) UpsertSemanticKnowledge(ctx context.Context, pipelineID string, ev domain.GraphEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO semantic_knowledge
			(event_id, pipeline_id, document_id, source_id, collection_id,
			 subject, subject_type, object, object_type, predicate, sentence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO UPDATE SET
			sentence = $11, predicate = $10`,
		ev.EventID, pipelineID, ev.DocumentID, ev.SourceID, ev.CollectionID,
		ev.Subject, ev.SubjectType, ev.Object, ev.ObjectType, ev.Predicate, ev.Sentence)
	if err != nil {
		return fmt.Errorf("%w: upsert semantic knowledge %s: %v", domain.ErrStoreTransient, ev.EventID, err)
	}
	return nil
}

// DeleteSemanticKnowledgeByDocumentID removes a document's projected rows,
// used by the Storage-Mapper's compensating delete.
func (s *Store) DeleteSemanticKnowledgeByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM semantic_knowledge WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("%w: delete semantic knowledge %s: %v", domain.ErrStoreTransient, documentID, err)
	}
	return nil
}

// EventProvenance is the relational projection the Discovery Retriever
// joins against vector search hits by event_id.
type EventProvenance struct {
	EventID      string
	DocumentID   string
	SourceID     string
	CollectionID string
	Subject      string
	Object       string
	Predicate    string
	Sentence     string
}

// GetSemanticKnowledge fetches the relational rows for a set of event ids,
// used by Discovery's Retriever to join vector search hits back to
// provenance.
func (s *Store) GetSemanticKnowledge(ctx context.Context, eventIDs []string) ([]EventProvenance, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT event_id, document_id, source_id, collection_id, subject, object, predicate, sentence
		FROM semantic_knowledge WHERE event_id = ANY($1)`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: get semantic knowledge: %v", domain.ErrStoreTransient, err)
	}
	defer rows.Close()

	var out []EventProvenance
	for rows.Next() {
		var p EventProvenance
		if err := rows.Scan(&p.EventID, &p.DocumentID, &p.SourceID, &p.CollectionID, &p.Subject, &p.Object, &p.Predicate, &p.Sentence); err != nil {
			return nil, fmt.Errorf("index: scan semantic knowledge: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordDiscovery persists one ranked discovery hit under a session, for
// the discovered_knowledge TTL-by-session-lifetime policy.
func (s *Store) RecordDiscovery(ctx context.Context, sessionID, eventID string, score float64, pagingCursor int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO discovered_knowledge (session_id, event_id, score, paging_cursor)
		VALUES ($1, $2, $3, $4)`,
		sessionID, eventID, score, pagingCursor)
	if err != nil {
		return fmt.Errorf("%w: record discovery: %v", domain.ErrStoreTransient, err)
	}
	return nil
}

// SweepExpiredDiscoveries deletes discovered_knowledge rows older than ttl,
// backing the background sweep for sessions that never called
// StopDiscoverySession.
func (s *Store) SweepExpiredDiscoveries(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM discovered_knowledge WHERE created_at < now() - $1::interval`, ttl.String())
	if err != nil {
		return 0, fmt.Errorf("%w: sweep discovered knowledge: %v", domain.ErrStoreTransient, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDiscoverySession removes every discovered_knowledge row for a
// session, called when StopDiscoverySession runs.
func (s *Store) DeleteDiscoverySession(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM discovered_knowledge WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete discovery session %s: %v", domain.ErrStoreTransient, sessionID, err)
	}
	return nil
}
