// Package graph is the sole owner of the graph store: subjects and
// objects as nodes, predicates as typed edges. Adapted from the
// teacher's engine/graph.GraphStore, generalized from a fixed Component/
// Edge vehicle-parts model to GraphEvent subject/predicate/object
// triples, and from its pkg/repo/neo4j.go session seam so sessions can be
// faked in tests without a live Neo4j instance.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/pkg/repo"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal session surface Store needs; a fake implements
// this directly in tests instead of standing up a real driver.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type driverAdapter struct{ sess neo4j.SessionWithContext }

func (a *driverAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}
func (a *driverAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (a *driverAdapter) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	return a.sess.ExecuteWrite(ctx, work)
}

// Store owns every Neo4j read/write for the pipeline's graph half.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner
	entities   *repo.Neo4jRepo[Entity, string]
}

// New binds to an already-connected driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{
		driver:   driver,
		entities: repo.NewNeo4jRepo[Entity, string](driver, "Entity", entityToMap, entityFromRecord, repo.WithIDKey[Entity, string]("name")),
	}
}

// Entity is one subject/object node, addressed by its name property, as
// read through GetEntity and ListEntities.
type Entity struct {
	Name string
	Type string
}

func entityToMap(e Entity) map[string]any {
	return map[string]any{"name": e.Name, "type": e.Type}
}

func entityFromRecord(rec *neo4j.Record) (Entity, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Entity{}, err
	}
	props := node.Props
	name, _ := props["name"].(string)
	typ, _ := props["type"].(string)
	return Entity{Name: name, Type: typ}, nil
}

// GetEntity looks up one entity node by name, adapted from the teacher's
// engine/graph/repo.go newComponentRepo pattern and generalized from a
// fixed Component shape to the subject/object Entity shape UpsertEvent
// writes.
func (s *Store) GetEntity(ctx context.Context, name string) (Entity, error) {
	return s.entities.Get(ctx, name)
}

// ListEntities pages through every entity node.
func (s *Store) ListEntities(ctx context.Context, opts repo.ListOpts) ([]Entity, error) {
	return s.entities.List(ctx, opts)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &driverAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// UpsertEvent writes one GraphEvent as a subject-node, object-node, and a
// predicate-typed edge between them, keyed by event_id so re-processing
// the same document is idempotent.
func (s *Store) UpsertEvent(ctx context.Context, ev domain.GraphEvent) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`
		MERGE (subj:Entity {name: $subject}) SET subj.type = $subject_type
		MERGE (obj:Entity {name: $object}) SET obj.type = $object_type
		MERGE (subj)-[r:%s {event_id: $event_id}]->(obj)
		SET r.sentence = $sentence, r.document_id = $document_id,
		    r.source_id = $source_id, r.collection_id = $collection_id`,
		sanitizeRelType(ev.Predicate))

	_, err := sess.Run(ctx, cypher, map[string]any{
		"subject":       ev.Subject,
		"subject_type":  ev.SubjectType,
		"object":        ev.Object,
		"object_type":   ev.ObjectType,
		"event_id":      ev.EventID,
		"sentence":      ev.Sentence,
		"document_id":   ev.DocumentID,
		"source_id":     ev.SourceID,
		"collection_id": ev.CollectionID,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert event %s: %v", domain.ErrStoreTransient, ev.EventID, err)
	}
	return nil
}

// UpsertBatch writes a batch of events in one managed transaction.
func (s *Store) UpsertBatch(ctx context.Context, events []domain.GraphEvent) error {
	if len(events) == 0 {
		return nil
	}
	sessAny := s.session(ctx)
	defer sessAny.Close(ctx)

	sess, ok := sessAny.(interface {
		ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
	})
	if !ok {
		// fake sessions in unit tests run statements sequentially instead.
		for _, ev := range events {
			if _, err := sessAny.Run(ctx, upsertCypher(ev), upsertParams(ev)); err != nil {
				return fmt.Errorf("%w: batch upsert: %v", domain.ErrStoreTransient, err)
			}
		}
		return nil
	}

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, ev := range events {
			if _, err := tx.Run(ctx, upsertCypher(ev), upsertParams(ev)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: batch upsert: %v", domain.ErrStoreTransient, err)
	}
	return nil
}

func upsertCypher(ev domain.GraphEvent) string {
	return fmt.Sprintf(`
		MERGE (subj:Entity {name: $subject}) SET subj.type = $subject_type
		MERGE (obj:Entity {name: $object}) SET obj.type = $object_type
		MERGE (subj)-[r:%s {event_id: $event_id}]->(obj)
		SET r.sentence = $sentence, r.document_id = $document_id,
		    r.source_id = $source_id, r.collection_id = $collection_id`,
		sanitizeRelType(ev.Predicate))
}

func upsertParams(ev domain.GraphEvent) map[string]any {
	return map[string]any{
		"subject": ev.Subject, "subject_type": ev.SubjectType,
		"object": ev.Object, "object_type": ev.ObjectType,
		"event_id": ev.EventID, "sentence": ev.Sentence,
		"document_id": ev.DocumentID, "source_id": ev.SourceID,
		"collection_id": ev.CollectionID,
	}
}

// DeleteByDocumentID removes every edge (and any now-orphaned entity
// nodes) written for a document. Used for the Storage-Mapper's
// compensating delete after a permanent vector or relational write failure.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `
		MATCH ()-[r {document_id: $document_id}]->()
		DELETE r
		WITH count(r) as deleted
		MATCH (n:Entity) WHERE NOT (n)--()
		DELETE n`
	_, err := sess.Run(ctx, cypher, map[string]any{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("graph: delete by document_id %s: %w", documentID, err)
	}
	return nil
}

// Neighbor is one hop result from Neighbors, carrying the edge weight
// Traverser uses for path scoring.
type Neighbor struct {
	Name      string
	Type      string
	Predicate string
	Weight    float64
}

// Neighbors returns every entity directly connected to name, for the
// Traverser's bounded BFS.
func (s *Store) Neighbors(ctx context.Context, name string) ([]Neighbor, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `
		MATCH (n:Entity {name: $name})-[r]-(m:Entity)
		RETURN m.name AS name, m.type AS type, type(r) AS predicate`
	result, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return nil, fmt.Errorf("%w: neighbors %s: %v", domain.ErrStoreTransient, name, err)
	}

	var out []Neighbor
	for result.Next(ctx) {
		rec := result.Record()
		nameVal, _ := rec.Get("name")
		typeVal, _ := rec.Get("type")
		predVal, _ := rec.Get("predicate")
		out = append(out, Neighbor{
			Name:      asString(nameVal),
			Type:      asString(typeVal),
			Predicate: asString(predVal),
			Weight:    1.0,
		})
	}
	return out, nil
}

// Degree returns an entity's edge count, used as the Retriever's
// centrality bonus.
func (s *Store) Degree(ctx context.Context, name string) (int, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {name: $name})-[r]-() RETURN count(r) AS degree`
	result, err := sess.Run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return 0, fmt.Errorf("%w: degree %s: %v", domain.ErrStoreTransient, name, err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	val, _ := result.Record().Get("degree")
	switch v := val.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// EntityCount and EdgeCount back the Insight service's graph_summary
// one-shot insight.
func (s *Store) EntityCount(ctx context.Context) (int64, error) {
	return s.scalarCount(ctx, `MATCH (n:Entity) RETURN count(n) AS c`)
}

func (s *Store) EdgeCount(ctx context.Context) (int64, error) {
	return s.scalarCount(ctx, `MATCH ()-[r]->() RETURN count(r) AS c`)
}

// CentralNode is one entity ranked by degree, for the graph_summary
// insight's top_central_nodes field.
type CentralNode struct {
	Name   string
	Degree int
}

// TopCentralNodes returns the k entities with the highest degree, used by
// the graph_summary insight rather than full community detection.
func (s *Store) TopCentralNodes(ctx context.Context, k int) ([]CentralNode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity)-[r]-() RETURN n.name AS name, count(r) AS degree ORDER BY degree DESC LIMIT $k`
	result, err := sess.Run(ctx, cypher, map[string]any{"k": int64(k)})
	if err != nil {
		return nil, fmt.Errorf("%w: top central nodes: %v", domain.ErrStoreTransient, err)
	}

	var out []CentralNode
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("name")
		degree, _ := rec.Get("degree")
		cn := CentralNode{Name: asString(name)}
		switch v := degree.(type) {
		case int64:
			cn.Degree = int(v)
		case int:
			cn.Degree = v
		}
		out = append(out, cn)
	}
	return out, nil
}

func (s *Store) scalarCount(ctx context.Context, cypher string) (int64, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrStoreTransient, err)
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	val, _ := result.Record().Get("c")
	switch v := val.(type) {
	case int64:
		return v, nil
	default:
		return 0, nil
	}
}

// sanitizeRelType ensures the predicate is a valid Cypher relationship
// type identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		switch {
		case c >= 'a' && c <= 'z':
			safe = append(safe, c-32)
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			safe = append(safe, c)
		case c == ' ':
			safe = append(safe, '_')
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return string(safe)
}
