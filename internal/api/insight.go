package api

import (
	"encoding/json"
	"net/http"

	"github.com/querent-ai/querent/internal/domain"
)

func (s *Server) registerInsightRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/insights/sessions", s.handleCreateInsightSession)
	mux.HandleFunc("GET /v1/insights/sessions", s.handleListInsightSessions)
	mux.HandleFunc("POST /v1/insights/sessions/{id}/prompt", s.handleProvideInsightInput)
	mux.HandleFunc("POST /v1/insights/sessions/{id}/stop", s.handleStopInsightSession)
}

type createInsightSessionRequest struct {
	InsightID          string            `json:"insight_id"`
	DiscoverySessionID string            `json:"discovery_session_id,omitempty"`
	SemanticPipelineID string            `json:"semantic_pipeline_id,omitempty"`
	Options            map[string]string `json:"options,omitempty"`
}

func (s *Server) handleCreateInsightSession(w http.ResponseWriter, r *http.Request) {
	var req createInsightSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	id, err := s.insights.CreateSession(req.InsightID, req.DiscoverySessionID, req.SemanticPipelineID, req.Options)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleListInsightSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.insights.ListSessions())
}

type promptInsightRequest struct {
	Input string `json:"input"`
}

func (s *Server) handleProvideInsightInput(w http.ResponseWriter, r *http.Request) {
	var req promptInsightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	reply, err := s.insights.Prompt(r.Context(), r.PathValue("id"), req.Input)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleStopInsightSession(w http.ResponseWriter, r *http.Request) {
	if err := s.insights.StopSession(r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
