// Package main runs querentd, the node process that owns every Semantic
// Pipeline, Discovery session and Insight session for one deployment.
// Adapted from the teacher's cmd/api/main.go: the same envOr-driven
// config load, dependency dial, mid.Chain-wrapped HTTP server and
// signal.NotifyContext graceful shutdown, generalized from a single
// stateless API process fronting one RAG service into a node that also
// supervises ingestion pipelines and runs a background discovery sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/querent-ai/querent/internal/api"
	"github.com/querent-ai/querent/internal/bus"
	"github.com/querent-ai/querent/internal/config"
	"github.com/querent-ai/querent/internal/discovery"
	"github.com/querent-ai/querent/internal/domain"
	"github.com/querent-ai/querent/internal/insight"
	"github.com/querent-ai/querent/internal/pipeline"
	"github.com/querent-ai/querent/internal/source"
	"github.com/querent-ai/querent/internal/store/graph"
	"github.com/querent-ai/querent/internal/store/index"
	"github.com/querent-ai/querent/internal/store/vector"
	"github.com/querent-ai/querent/pkg/modelclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("querentd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Node, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graphStore := graph.New(neo4jDriver)

	vectorStore, err := vector.New(cfg.Qdrant.Address, cfg.Qdrant.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.EnsureCollection(ctx, cfg.Qdrant.Dimensions); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	indexCfg, err := index.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("index config: %w", err)
	}
	indexStore, err := index.New(ctx, indexCfg)
	if err != nil {
		return fmt.Errorf("index connect: %w", err)
	}
	defer indexStore.Close()

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	realtime := bus.NewRealtime(nc)

	embedder := modelclient.NewOllamaEmbedder(cfg.Model.EmbedURL, "nomic-embed-text")
	chatter := modelclient.NewOllamaChatter(cfg.Model.ChatURL)

	sources := source.NewRegistry()
	sources.Register(domain.CollectorFileTree, source.NewFileTreeSource)
	sources.Register(domain.CollectorNews, source.NewHTTPPollSource)

	supervisor := pipeline.NewSupervisor(pipeline.Dependencies{
		Sources:  sources,
		Graph:    graphStore,
		Vector:   vectorStore,
		Index:    indexStore,
		Embedder: embedder,
		Realtime: realtime,
		Log:      logger,
	})

	discoverySvc := discovery.NewService(discovery.Dependencies{
		Embedder:   embedder,
		Vector:     vectorStore,
		Graph:      graphStore,
		Index:      indexStore,
		SessionTTL: cfg.DiscoveryTTL,
		Log:        logger,
	})
	go sweepLoop(ctx, discoverySvc, logger)

	insightRegistry := insight.NewRegistry()
	insightRegistry.Register(insight.NewChatInsight(embedder, chatter, vectorStore))
	insightRegistry.Register(insight.NewGraphSummaryInsight(graphStore))
	insightSvc := insight.NewService(insightRegistry, logger)

	server := api.NewServer(api.Dependencies{
		Pipelines:  supervisor,
		Discovery:  discoverySvc,
		Insights:   insightSvc,
		Collectors: indexStore,
		CORSOrigin: cfg.CORSOrigin,
		Log:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("querentd starting", "addr", cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// sweepLoop periodically evicts discovered_knowledge rows whose session
// TTL has lapsed, the background half of the resolved discovered_knowledge
// lifetime policy (spec: TTL by session lifetime, swept out of band rather
// than on every read).
func sweepLoop(ctx context.Context, svc *discovery.Service, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepExpired(ctx)
			if err != nil {
				log.Error("discovery sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("discovery sweep evicted expired sessions", "count", n)
			}
		}
	}
}
