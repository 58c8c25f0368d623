package insight

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/store/graph"
	"github.com/querent-ai/querent/internal/store/vector"
	"github.com/querent-ai/querent/pkg/modelclient"
)

// ChatTopK bounds how many vector search hits back one chat turn,
// mirroring the teacher's rag.DefaultOptions TopK.
const ChatTopK = 5

// chatSearcher is the minimal surface ChatInsight needs from the vector
// store; *vector.Store satisfies it directly.
type chatSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, collectionID string) ([]vector.SearchHit, error)
}

// ChatInsight is the conversational, RAG-style built-in insight. It
// embeds the user's message, searches the pipeline's vector store, and
// asks a Chatter to answer grounded in the retrieved context plus the
// session's prior turns — the same embed/search/answer shape as the
// teacher's rag.Service.Query, generalized from a one-shot call into a
// multi-turn conversation carried on domain.InsightSession.History.
type ChatInsight struct {
	embed  modelclient.Embedder
	chat   modelclient.Chatter
	search chatSearcher
}

// NewChatInsight builds the built-in "chat" insight.
func NewChatInsight(embed modelclient.Embedder, chat modelclient.Chatter, search chatSearcher) *ChatInsight {
	return &ChatInsight{embed: embed, chat: chat, search: search}
}

func (c *ChatInsight) Metadata() Metadata {
	return Metadata{
		ID:             "chat",
		Name:           "Chat",
		Description:    "Conversational retrieval-augmented question answering over the pipeline's indexed knowledge.",
		Conversational: true,
	}
}

func (c *ChatInsight) Prompt(ctx context.Context, session *domain.InsightSession, input string) (string, error) {
	embedding, err := c.embed.Embed(ctx, input)
	if err != nil {
		return "", fmt.Errorf("chat insight: embed: %w", err)
	}

	collectionID := session.Options["collection_id"]
	hits, err := c.search.Search(ctx, embedding, ChatTopK, collectionID)
	if err != nil {
		return "", fmt.Errorf("chat insight: search: %w", err)
	}

	var contextParts []string
	for _, h := range hits {
		contextParts = append(contextParts, fmt.Sprintf("[%s] score=%.3f", h.EventID, h.Score))
	}
	for _, turn := range session.History {
		contextParts = append(contextParts, fmt.Sprintf("Q: %s\nA: %s", turn.Query, turn.Response))
	}

	reply, err := c.chat.Chat(ctx, modelclient.ChatRequest{
		Message:      input,
		Context:      contextParts,
		SystemPrompt: chatSystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("chat insight: chat: %w", err)
	}
	return reply.Text, nil
}

const chatSystemPrompt = `Answer the user's question using ONLY the provided context. If the context does not contain enough information, say so. Cite sources using [event_id].`

// graphCounter is the minimal surface GraphSummaryInsight needs from the
// graph store; *graph.Store satisfies it directly.
type graphCounter interface {
	EntityCount(ctx context.Context) (int64, error)
	EdgeCount(ctx context.Context) (int64, error)
	TopCentralNodes(ctx context.Context, k int) ([]graph.CentralNode, error)
}

// topCentralNodesLimit bounds how many entities graph_summary reports in
// top_central_nodes.
const topCentralNodesLimit = 5

// CentralNode is one entity's rank in GraphSummary.TopCentralNodes.
type CentralNode struct {
	Name   string `json:"name"`
	Degree int    `json:"degree"`
}

// GraphSummary is the structured payload graph_summary's Prompt returns,
// json-encoded. NumCommunities and LargestCommunitySize are always 0:
// true community detection (Louvain/label propagation) isn't implemented
// (see DESIGN.md) because it needs a full in-memory graph materialization
// this store's Cypher access pattern doesn't otherwise require.
type GraphSummary struct {
	TotalNodes           int64         `json:"total_nodes"`
	AvgDegree            float64       `json:"avg_degree"`
	GraphDensity         string        `json:"graph_density"`
	NumCommunities       int           `json:"num_communities"`
	LargestCommunitySize int           `json:"largest_community_size"`
	TopCentralNodes      []CentralNode `json:"top_central_nodes"`
}

// GraphSummaryInsight is the structured, one-shot built-in insight: it
// reports entity/edge counts, average degree and the highest-degree
// entities from the graph store. Non-conversational; History is unused.
type GraphSummaryInsight struct {
	graphs graphCounter
}

// NewGraphSummaryInsight builds the built-in "graph_summary" insight.
func NewGraphSummaryInsight(graphs graphCounter) *GraphSummaryInsight {
	return &GraphSummaryInsight{graphs: graphs}
}

func (g *GraphSummaryInsight) Metadata() Metadata {
	return Metadata{
		ID:          "graph_summary",
		Name:        "Graph Summary",
		Description: "One-shot structured stats for the pipeline's knowledge graph.",
	}
}

func (g *GraphSummaryInsight) Prompt(ctx context.Context, _ *domain.InsightSession, _ string) (string, error) {
	entities, err := g.graphs.EntityCount(ctx)
	if err != nil {
		return "", fmt.Errorf("graph_summary insight: entity count: %w", err)
	}
	edges, err := g.graphs.EdgeCount(ctx)
	if err != nil {
		return "", fmt.Errorf("graph_summary insight: edge count: %w", err)
	}

	var avgDegree float64
	density := "empty"
	if entities > 0 {
		avgDegree = 2 * float64(edges) / float64(entities)
		density = "sparse"
		if avgDegree > 2 {
			density = "dense"
		}
	}

	var central []CentralNode
	if entities > 0 {
		nodes, err := g.graphs.TopCentralNodes(ctx, topCentralNodesLimit)
		if err != nil {
			return "", fmt.Errorf("graph_summary insight: top central nodes: %w", err)
		}
		central = make([]CentralNode, len(nodes))
		for i, n := range nodes {
			central[i] = CentralNode{Name: n.Name, Degree: n.Degree}
		}
	}

	out, err := json.Marshal(GraphSummary{
		TotalNodes:      entities,
		AvgDegree:       avgDegree,
		GraphDensity:    density,
		TopCentralNodes: central,
	})
	if err != nil {
		return "", fmt.Errorf("graph_summary insight: encode: %w", err)
	}
	return string(out), nil
}
