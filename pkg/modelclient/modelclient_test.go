package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model: %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	vals, err := c.Embed(context.Background(), "brake pads are worn")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vals))
	}
}

func TestOllamaEmbedderEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{1, 2}})
	}))
	defer srv.Close()

	c := NewOllamaEmbedder(srv.URL, "nomic-embed-text")
	batch, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 results, got %d", len(batch))
	}
}

func TestOllamaEmbedderErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaEmbedder(srv.URL, "m")
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
