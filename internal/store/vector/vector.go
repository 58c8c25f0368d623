// Package vector is the sole owner of the index store's vector column
// (spec: embedded_knowledge), backed by Qdrant. Adapted from the
// teacher's engine/semantic.VectorStore: the same collection
// lifecycle/upsert/search operations, generalized from document chunk
// payloads to SemanticEvent payloads keyed by event_id.
package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/querent-ai/querent/internal/domain"
)

// Store owns all Qdrant operations for the embedded_knowledge collection.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New dials addr and binds to collection.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

// EnsureCollection creates the collection if it does not already exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert writes one point per SemanticEvent, keyed by event_id so
// re-processing the same document is idempotent.
func (s *Store) Upsert(ctx context.Context, events []domain.SemanticEvent) error {
	if len(events) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(events))
	for i, ev := range events {
		payload := map[string]*pb.Value{
			"subject":       {Kind: &pb.Value_StringValue{StringValue: ev.Graph.Subject}},
			"object":        {Kind: &pb.Value_StringValue{StringValue: ev.Graph.Object}},
			"predicate":     {Kind: &pb.Value_StringValue{StringValue: ev.Graph.Predicate}},
			"sentence":      {Kind: &pb.Value_StringValue{StringValue: ev.Graph.Sentence}},
			"document_id":   {Kind: &pb.Value_StringValue{StringValue: ev.Graph.DocumentID}},
			"source_id":     {Kind: &pb.Value_StringValue{StringValue: ev.Graph.SourceID}},
			"collection_id": {Kind: &pb.Value_StringValue{StringValue: ev.Graph.CollectionID}},
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: ev.Graph.EventID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: ev.Vector.Embedding}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d points: %v", domain.ErrStoreTransient, len(events), err)
	}
	return nil
}

// DeleteByDocumentID removes every point for a document, used by the
// Storage-Mapper's compensating delete when the vector write permanently
// fails after the graph write already succeeded.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("document_id", documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by document_id %s: %w", documentID, err)
	}
	return nil
}

// SearchHit is one k-NN similarity result.
type SearchHit struct {
	EventID string
	Score   float32
}

// Search performs k-NN similarity search over the collection, optionally
// filtered by collection_id (top_pairs scoping for Discovery's Retriever).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, collectionID string) ([]SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
	}
	if collectionID != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("collection_id", collectionID)}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrStoreTransient, err)
	}

	hits := make([]SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = SearchHit{EventID: r.GetId().GetUuid(), Score: r.GetScore()}
	}
	return hits, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
