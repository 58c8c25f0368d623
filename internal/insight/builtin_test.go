package insight

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/store/graph"
	"github.com/querent-ai/querent/internal/store/vector"
	"github.com/querent-ai/querent/pkg/modelclient"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	return out, nil
}

type fakeSearcher struct{ hits []vector.SearchHit }

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ int, _ string) ([]vector.SearchHit, error) {
	return f.hits, nil
}

type fakeChatter struct {
	lastReq modelclient.ChatRequest
}

func (f *fakeChatter) Chat(_ context.Context, req modelclient.ChatRequest) (modelclient.ChatResponse, error) {
	f.lastReq = req
	return modelclient.ChatResponse{Text: "answer grounded in context", Model: "fake"}, nil
}

type fakeGraphCounter struct {
	entities, edges int64
	central         []graph.CentralNode
}

func (f *fakeGraphCounter) EntityCount(_ context.Context) (int64, error) { return f.entities, nil }
func (f *fakeGraphCounter) EdgeCount(_ context.Context) (int64, error)   { return f.edges, nil }
func (f *fakeGraphCounter) TopCentralNodes(_ context.Context, k int) ([]graph.CentralNode, error) {
	if k < len(f.central) {
		return f.central[:k], nil
	}
	return f.central, nil
}

func TestChatInsightFoldsSearchHitsAndHistoryIntoContext(t *testing.T) {
	chat := &fakeChatter{}
	ci := NewChatInsight(fakeEmbedder{}, chat, &fakeSearcher{hits: []vector.SearchHit{{EventID: "evt-1", Score: 0.9}}})

	session := &domain.InsightSession{
		Options: map[string]string{"collection_id": "field-a"},
		History: []domain.ConversationTurn{{Query: "earlier question", Response: "earlier answer"}},
	}

	reply, err := ci.Prompt(context.Background(), session, "what drilled the well?")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if reply != "answer grounded in context" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(chat.lastReq.Context) != 2 {
		t.Fatalf("expected search hit + history turn folded into context, got %+v", chat.lastReq.Context)
	}
}

func TestGraphSummaryInsightReportsStructuredStats(t *testing.T) {
	gs := NewGraphSummaryInsight(&fakeGraphCounter{
		entities: 10, edges: 25,
		central: []graph.CentralNode{{Name: "Acme", Degree: 9}, {Name: "Wildcat", Degree: 6}},
	})
	reply, err := gs.Prompt(context.Background(), &domain.InsightSession{}, "")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	var summary GraphSummary
	if err := json.Unmarshal([]byte(reply), &summary); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", reply, err)
	}
	if summary.TotalNodes != 10 {
		t.Fatalf("expected total_nodes=10, got %d", summary.TotalNodes)
	}
	if summary.AvgDegree != 5 {
		t.Fatalf("expected avg_degree=5 (2*25/10), got %v", summary.AvgDegree)
	}
	if summary.GraphDensity != "dense" {
		t.Fatalf("expected dense graph_density, got %q", summary.GraphDensity)
	}
	if len(summary.TopCentralNodes) != 2 || summary.TopCentralNodes[0].Name != "Acme" {
		t.Fatalf("unexpected top_central_nodes: %+v", summary.TopCentralNodes)
	}
}

func TestGraphSummaryInsightHandlesEmptyGraph(t *testing.T) {
	gs := NewGraphSummaryInsight(&fakeGraphCounter{})
	reply, err := gs.Prompt(context.Background(), &domain.InsightSession{}, "")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	var summary GraphSummary
	if err := json.Unmarshal([]byte(reply), &summary); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", reply, err)
	}
	if summary.GraphDensity != "empty" {
		t.Fatalf("expected empty graph_density, got %q", summary.GraphDensity)
	}
	if len(summary.TopCentralNodes) != 0 {
		t.Fatalf("expected no central nodes for an empty graph, got %+v", summary.TopCentralNodes)
	}
}
