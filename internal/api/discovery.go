package api

import (
	"encoding/json"
	"net/http"

	"github.com/querent-ai/querent/internal/discovery"
	"github.com/querent-ai/querent/internal/domain"
)

// discoveryRequestBody is the JSON shape for POST .../discover.
type discoveryRequestBody struct {
	Query        string   `json:"query,omitempty"`
	CollectionID string   `json:"collection_id,omitempty"`
	TopPairs     []string `json:"top_pairs,omitempty"`
	PageSize     int      `json:"page_size,omitempty"`
}

func (b discoveryRequestBody) toDiscoveryRequest() discovery.Request {
	return discovery.Request{
		Query:        b.Query,
		CollectionID: b.CollectionID,
		TopPairs:     b.TopPairs,
		PageSize:     b.PageSize,
	}
}

func (s *Server) registerDiscoveryRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/discovery/sessions", s.handleStartDiscoverySession)
	mux.HandleFunc("GET /v1/discovery/sessions", s.handleListDiscoverySessions)
	mux.HandleFunc("POST /v1/discovery/sessions/{id}/discover", s.handleDiscoverInsights)
	mux.HandleFunc("POST /v1/discovery/sessions/{id}/stop", s.handleStopDiscoverySession)
}

type startDiscoverySessionRequest struct {
	SemanticPipelineID string           `json:"semantic_pipeline_id"`
	AgentType          domain.AgentType `json:"agent_type"`
}

func (s *Server) handleStartDiscoverySession(w http.ResponseWriter, r *http.Request) {
	var req startDiscoverySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	id, err := s.discovery.StartSession(req.SemanticPipelineID, req.AgentType)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleListDiscoverySessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.discovery.ListSessions())
}

func (s *Server) handleDiscoverInsights(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	hits, err := s.discovery.Discover(r.Context(), r.PathValue("id"), req.toDiscoveryRequest())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleStopDiscoverySession(w http.ResponseWriter, r *http.Request) {
	if err := s.discovery.StopSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
