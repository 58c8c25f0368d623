package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/querent-ai/querent/internal/domain"
)

func (s *Server) registerSemanticsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/semantics/pipelines", s.handleStartPipeline)
	mux.HandleFunc("GET /v1/semantics/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /v1/semantics/pipelines/counters", s.handleObservePipelines)
	mux.HandleFunc("GET /v1/semantics/pipelines/{id}", s.handleDescribePipeline)
	mux.HandleFunc("POST /v1/semantics/pipelines/{id}/stop", s.handleStopPipeline)
	mux.HandleFunc("POST /v1/semantics/pipelines/{id}/restart", s.handleRestartPipeline)
	mux.HandleFunc("POST /v1/semantics/pipelines/{id}/tokens", s.handleIngestTokens)
	mux.HandleFunc("POST /v1/semantics/collectors", s.handlePostCollectors)
	mux.HandleFunc("GET /v1/semantics/collectors", s.handleListCollectors)
	mux.HandleFunc("DELETE /v1/semantics/collectors", s.handleDeleteCollectors)
}

func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	var req domain.SemanticPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}

	id, err := s.pipelines.Start(r.Context(), req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pipeline_id": id})
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipelines.ListPipelines())
}

func (s *Server) handleObservePipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipelines.Observe())
}

func (s *Server) handleDescribePipeline(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipelines.Describe(r.PathValue("id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStopPipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.pipelines.Stop(r.PathValue("id")); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRestartPipeline(w http.ResponseWriter, r *http.Request) {
	newID, err := s.pipelines.Restart(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pipeline_id": newID})
}

func (s *Server) handleIngestTokens(w http.ResponseWriter, r *http.Request) {
	var tokens []domain.IngestedTokens
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	if err := s.pipelines.Ingest(r.PathValue("id"), tokens); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(tokens)})
}

func (s *Server) handlePostCollectors(w http.ResponseWriter, r *http.Request) {
	var cfg domain.CollectorConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = time.Now()

	if err := s.collectors.UpsertCollector(r.Context(), cfg); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListCollectors(w http.ResponseWriter, r *http.Request) {
	configs, err := s.collectors.ListCollectors(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleDeleteCollectors(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		writeError(w, s.log, &domain.ValidationError{Field: "body", Wrapped: domain.ErrInvalidArguments})
		return
	}
	if err := s.collectors.DeleteCollectors(r.Context(), ids); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(ids)})
}
