// Package api exposes every control-plane RPC (spec §6) as a JSON/HTTP
// handler, wired with the teacher's pkg/mid middleware chain. Adapted
// from the teacher's cmd/api/main.go handler set: one handler per RPC,
// decode-validate-delegate-encode, generalized from a fixed
// chat/manuals/metrics surface to the full Semantics/Discovery/Insights
// RPC set.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/querent-ai/querent/internal/discovery"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/insight"
	"github.com/querent-ai/querent/internal/pipeline"
	"github.com/querent-ai/querent/pkg/mid"
	"github.com/querent-ai/querent/pkg/obsmetrics"
)

// collectorStore is the minimal surface the collector handlers need from
// the relational index store; *index.Store satisfies it directly.
type collectorStore interface {
	UpsertCollector(ctx context.Context, cfg domain.CollectorConfig) error
	DeleteCollectors(ctx context.Context, ids []string) error
	ListCollectors(ctx context.Context) ([]domain.CollectorConfig, error)
}

// Server wires every service the control plane fronts into one HTTP
// handler.
type Server struct {
	pipelines  *pipeline.Supervisor
	discovery  *discovery.Service
	insights   *insight.Service
	collectors collectorStore
	log        *slog.Logger

	mux http.Handler
}

// Dependencies wires a Server to the services it fronts.
type Dependencies struct {
	Pipelines  *pipeline.Supervisor
	Discovery  *discovery.Service
	Insights   *insight.Service
	Collectors collectorStore
	CORSOrigin string
	Log        *slog.Logger
}

// NewServer builds the control-plane HTTP handler, with the teacher's
// Recover/Logger/CORS/OTel middleware chain applied in that order.
func NewServer(deps Dependencies) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		pipelines:  deps.Pipelines,
		discovery:  deps.Discovery,
		insights:   deps.Insights,
		collectors: deps.Collectors,
		log:        log,
	}

	mux := http.NewServeMux()
	s.registerSemanticsRoutes(mux)
	s.registerDiscoveryRoutes(mux)
	s.registerInsightRoutes(mux)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", obsmetrics.Handler())

	origin := deps.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	s.mux = mid.Chain(mux,
		mid.Recover(log),
		mid.Logger(log),
		mid.CORS(origin),
		mid.OTel("querentd"),
	)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body, matching the teacher's bare
// json.NewEncoder(w).Encode(...) handler style.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as the spec's {"error": "..."} body, mapping
// domain sentinels to their HTTP status per spec §7.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrPipelineNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPipelineInitFailed), errors.Is(err, domain.ErrConfigInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
