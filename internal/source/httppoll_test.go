package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/querent-ai/querent/internal/domain"
)

func TestHTTPPollSourceDedupsByID(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		resp := feedResponse{Items: []feedItem{{ID: "1", Title: "t", Content: "c"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	src, err := NewHTTPPollSource(domain.CollectorConfig{FeedURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	chunks, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	chunks, err = src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected dedup to suppress repeat item, got %d", len(chunks))
	}
}

func TestHTTPPollSourceAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, _ := NewHTTPPollSource(domain.CollectorConfig{FeedURL: srv.URL})
	_, err := src.Poll(context.Background())
	if err != domain.ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestHTTPPollSourceRejectsMissingEndpoint(t *testing.T) {
	_, err := NewHTTPPollSource(domain.CollectorConfig{})
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
