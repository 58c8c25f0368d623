// Package discovery runs retrieval sessions over a semantic pipeline's
// index store: Retriever does embedding k-NN with a graph-centrality
// bonus, Traverser does a bounded graph walk. Adapted from the teacher's
// engine/rag.Service orchestration shape (embed -> search -> enrich ->
// rank), generalized from a single RAG chat turn to a stateful, paginated
// discovery session over two selectable agent strategies.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/store/graph"
	"github.com/querent-ai/querent/internal/store/index"
	"github.com/querent-ai/querent/internal/store/vector"
	"github.com/querent-ai/querent/pkg/obsmetrics"
)

// embedder is the minimal surface Retriever needs to turn a query into a
// vector; *modelclient.OllamaEmbedder satisfies it directly.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// vectorSearcher is the minimal surface Retriever needs from the vector
// store; *vector.Store satisfies it directly.
type vectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, collectionID string) ([]vector.SearchHit, error)
}

// graphStore is the minimal surface both agents need from the graph
// store; *graph.Store satisfies it directly.
type graphStore interface {
	Degree(ctx context.Context, name string) (int, error)
	Neighbors(ctx context.Context, name string) ([]graph.Neighbor, error)
}

// relStore is the relational projection surface both agents join hits
// against, and the session-bookkeeping surface for TTL sweep.
type relStore interface {
	GetSemanticKnowledge(ctx context.Context, eventIDs []string) ([]index.EventProvenance, error)
	RecordDiscovery(ctx context.Context, sessionID, eventID string, score float64, pagingCursor int) error
	SweepExpiredDiscoveries(ctx context.Context, ttl time.Duration) (int64, error)
	DeleteDiscoverySession(ctx context.Context, sessionID string) error
}

// Hit is one ranked discovery result, joining a vector/graph score back to
// its relational provenance.
type Hit struct {
	EventID   string  `json:"event_id"`
	Score     float64 `json:"score"`
	Subject   string  `json:"subject"`
	Predicate string  `json:"predicate"`
	Object    string  `json:"object"`
	Sentence  string  `json:"sentence"`
}

// Request configures one DiscoverInsights call.
type Request struct {
	Query        string
	Vehicle      string // reserved filter passthrough, unused by either agent directly
	CollectionID string
	TopPairs     []string
	PageSize     int
}

// DefaultTopK is the default page size when a request sets no PageSize.
// The retriever's underlying vector search always fetches
// discoverFetchSize candidates, independent of the page size.
const DefaultTopK = 10

// MaxTraversalDepth bounds the Traverser's BFS so a densely connected
// graph can't turn one request into an unbounded walk.
const MaxTraversalDepth = 3

// discoverFetchSize bounds how many candidates a strategy computes once
// per distinct (query, filters); Discover then pages through this single
// cached ranked list instead of re-querying per page (spec §4.8 step 5).
const discoverFetchSize = 100

// cacheKey identifies the (query, filters) a cached ranked list was
// computed for. PageSize is deliberately excluded: it controls pagination
// over the cached list, not what the list contains.
type cacheKey struct {
	query        string
	vehicle      string
	collectionID string
	topPairs     string
}

func cacheKeyFor(req Request) cacheKey {
	return cacheKey{
		query:        req.Query,
		vehicle:      req.Vehicle,
		collectionID: req.CollectionID,
		topPairs:     strings.Join(req.TopPairs, "\x00"),
	}
}

// rankedCache is one session's cached full ranked list for the most
// recent (query, filters) it was asked to discover over.
type rankedCache struct {
	key  cacheKey
	hits []Hit
}

// Service owns every live DiscoverySession.
type Service struct {
	embed  embedder
	search vectorSearcher
	graphs graphStore
	rel    relStore
	ttl    time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.DiscoverySession
	cache    map[string]*rankedCache
}

// Dependencies wires a Service to its backing stores.
type Dependencies struct {
	Embedder embedder
	Vector   vectorSearcher
	Graph    graphStore
	Index    relStore
	// SessionTTL is how long an un-stopped session's discovered_knowledge
	// rows survive before the background sweep removes them (resolved
	// Open Question: TTL-by-session-lifetime).
	SessionTTL time.Duration
	Log        *slog.Logger
}

// NewService builds a discovery Service. Callers with a live index store
// should also launch SweepExpired on an interval to enforce SessionTTL.
func NewService(deps Dependencies) *Service {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		embed:    deps.Embedder,
		search:   deps.Vector,
		graphs:   deps.Graph,
		rel:      deps.Index,
		ttl:      ttl,
		log:      log,
		sessions: make(map[string]*domain.DiscoverySession),
		cache:    make(map[string]*rankedCache),
	}
}

// StartSession opens a new session scoped to a running semantic pipeline,
// using the given agent strategy.
func (s *Service) StartSession(pipelineID string, agent domain.AgentType) (string, error) {
	if agent != domain.AgentRetriever && agent != domain.AgentTraverser {
		return "", fmt.Errorf("%w: unknown agent type %q", domain.ErrInvalidArguments, agent)
	}
	sess := &domain.DiscoverySession{
		SessionID:          uuid.NewString(),
		SemanticPipelineID: pipelineID,
		AgentType:          agent,
		CreatedAt:          time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	obsmetrics.SetActiveDiscoverySessions(string(agent), count)
	return sess.SessionID, nil
}

// StopSession ends a session and removes its discovered_knowledge rows.
func (s *Service) StopSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		delete(s.cache, sessionID)
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("discovery session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	obsmetrics.SetActiveDiscoverySessions(string(sess.AgentType), count)
	if s.rel == nil {
		return nil
	}
	return s.rel.DeleteDiscoverySession(ctx, sessionID)
}

// ListSessions returns every open session.
func (s *Service) ListSessions() []domain.DiscoverySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DiscoverySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// Discover runs one paginated retrieval round against an open session.
// The first call for a given (query, filters) dispatches to the session's
// agent type and caches the full ranked list; every subsequent call with
// the same (query, filters) pages through that cached list instead of
// recomputing it, advancing PagingCursor so consecutive calls return
// disjoint, monotonically ordered pages whose union is the cached list
// (spec §4.8 step 5). A different (query, filters) invalidates the cache
// and restarts paging from the first page.
func (s *Service) Discover(ctx context.Context, sessionID string, req Request) ([]Hit, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("discovery session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	key := cacheKeyFor(req)
	s.mu.Lock()
	cached, hasCache := s.cache[sessionID]
	s.mu.Unlock()

	full := []Hit(nil)
	if hasCache && cached.key == key {
		full = cached.hits
	} else {
		var (
			computed []Hit
			err      error
		)
		switch sess.AgentType {
		case domain.AgentRetriever:
			computed, err = s.retrieve(ctx, req)
		case domain.AgentTraverser:
			computed, err = s.traverse(ctx, req)
		default:
			return nil, fmt.Errorf("%w: unknown agent type %q", domain.ErrInvalidArguments, sess.AgentType)
		}
		if err != nil {
			return nil, err
		}
		full = computed
		s.mu.Lock()
		s.cache[sessionID] = &rankedCache{key: key, hits: full}
		sess.PagingCursor = 0
		s.mu.Unlock()
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultTopK
	}

	s.mu.Lock()
	start := sess.PagingCursor * pageSize
	var page []Hit
	if start < len(full) {
		end := start + pageSize
		if end > len(full) {
			end = len(full)
		}
		page = full[start:end:end]
	}
	if len(page) > 0 {
		sess.PagingCursor++
	}
	cursor := sess.PagingCursor
	s.mu.Unlock()

	if s.rel != nil {
		for _, h := range page {
			if recErr := s.rel.RecordDiscovery(ctx, sessionID, h.EventID, h.Score, cursor); recErr != nil {
				s.log.Warn("discovery: record discovery failed", "session_id", sessionID, "event_id", h.EventID, "error", recErr)
			}
		}
	}
	return page, nil
}

// retrieve is the Retriever strategy: embed the query, k-NN search the
// vector store pre-filtered by CollectionID, join hits to their
// relational provenance by event_id, and re-rank by
// (1-cosine_distance) plus a subject-centrality bonus from the graph
// store's Degree.
func (s *Service) retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required for the retriever agent", domain.ErrInvalidArguments)
	}

	embedding, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("discovery: embed query: %w", err)
	}

	vhits, err := s.search.Search(ctx, embedding, discoverFetchSize, req.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("discovery: vector search: %w", err)
	}
	if len(vhits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(vhits))
	scoreByID := make(map[string]float32, len(vhits))
	for i, h := range vhits {
		ids[i] = h.EventID
		scoreByID[h.EventID] = h.Score
	}

	provenance, err := s.rel.GetSemanticKnowledge(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("discovery: join provenance: %w", err)
	}

	hits := make([]Hit, 0, len(provenance))
	for _, p := range provenance {
		base := float64(scoreByID[p.EventID])
		bonus := 0.0
		if s.graphs != nil {
			if degree, derr := s.graphs.Degree(ctx, p.Subject); derr == nil {
				bonus = centralityBonus(degree)
			}
		}
		hits = append(hits, Hit{
			EventID:   p.EventID,
			Score:     base + bonus,
			Subject:   p.Subject,
			Predicate: p.Predicate,
			Object:    p.Object,
			Sentence:  p.Sentence,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// centralityBonus grows by 0.005 per edge of degree from a 0.01 base, but
// stops growing after 20 edges (at most 0.11), so a single very
// high-degree hub entity doesn't dominate every ranking.
func centralityBonus(degree int) float64 {
	if degree <= 0 {
		return 0
	}
	bonus := 0.01
	for i := 0; i < degree && i < 20; i++ {
		bonus += 0.005
	}
	return bonus
}

// traverse is the Traverser strategy: a bounded BFS from each of
// req.TopPairs out to MaxTraversalDepth hops, scoring each reached entity
// by the product of edge weights on its path. Results are ordered by that
// path score alone; embedding similarity to the query is not used, and the
// order among entities with equal scores is not defined.
func (s *Service) traverse(ctx context.Context, req Request) ([]Hit, error) {
	if len(req.TopPairs) == 0 {
		return nil, fmt.Errorf("%w: top_pairs is required for the traverser agent", domain.ErrInvalidArguments)
	}
	if s.graphs == nil {
		return nil, fmt.Errorf("discovery: traverser requires a graph store")
	}

	type frontierEntry struct {
		name  string
		score float64
		depth int
	}

	visited := map[string]bool{}
	var frontier []frontierEntry
	for _, seed := range req.TopPairs {
		if !visited[seed] {
			visited[seed] = true
			frontier = append(frontier, frontierEntry{name: seed, score: 1.0, depth: 0})
		}
	}

	var reached []frontierEntry
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth > 0 {
			reached = append(reached, cur)
		}
		if cur.depth >= MaxTraversalDepth {
			continue
		}
		neighbors, err := s.graphs.Neighbors(ctx, cur.name)
		if err != nil {
			return nil, fmt.Errorf("discovery: neighbors of %s: %w", cur.name, err)
		}
		for _, n := range neighbors {
			if visited[n.Name] {
				continue
			}
			visited[n.Name] = true
			frontier = append(frontier, frontierEntry{
				name:  n.Name,
				score: cur.score * n.Weight,
				depth: cur.depth + 1,
			})
		}
	}

	sort.Slice(reached, func(i, j int) bool { return reached[i].score > reached[j].score })

	hits := make([]Hit, 0, len(reached))
	for _, r := range reached {
		hits = append(hits, Hit{EventID: r.name, Score: r.score, Subject: r.name})
	}
	return hits, nil
}

// SweepExpired deletes discovered_knowledge rows for sessions that never
// called StopSession, once their rows outlive the configured SessionTTL.
// Callers run this on an interval (spec §4.9's background sweep actor).
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	if s.rel == nil {
		return 0, nil
	}
	return s.rel.SweepExpiredDiscoveries(ctx, s.ttl)
}
