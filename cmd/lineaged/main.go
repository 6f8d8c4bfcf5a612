package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/semlin/lineaged/internal/ai"
	"github.com/semlin/lineaged/internal/api"
	"github.com/semlin/lineaged/internal/config"
	"github.com/semlin/lineaged/internal/engine"
	"github.com/semlin/lineaged/internal/eventbus"
	"github.com/semlin/lineaged/internal/graph"
	"github.com/semlin/lineaged/internal/runs"
	"github.com/semlin/lineaged/internal/seed"
	"github.com/semlin/lineaged/internal/state"
	"github.com/semlin/lineaged/internal/tools"
	"github.com/semlin/lineaged/internal/vector"
)

func main() {
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	graphStore := graph.NewStore(db)
	index := vector.NewIndex(db, cfg.EmbedDim)
	runStore := runs.NewStore(db)
	bus := eventbus.NewBus(db)

	var embedder vector.Embedder
	if cfg.EmbedEndpoint != "" {
		embedder = vector.NewHTTPEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel)
		log.Printf("embedding via %s (%s)", cfg.EmbedEndpoint, cfg.EmbedModel)
	} else {
		embedder = vector.NewHashingEmbedder(cfg.EmbedDim)
		log.Printf("embedding via local hashing embedder (dim %d)", cfg.EmbedDim)
	}

	registry := tools.NewRegistry(graphStore, index, embedder, tools.Options{
		DepthCap: cfg.TraversalDepthCap,
	})

	var reasoner engine.Reasoner
	if cfg.LLMModel != "" && cfg.LLMAPIKey != "" {
		client, err := ai.NewClient(ai.Config{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			APIKey:   cfg.LLMAPIKey,
			Timeout:  cfg.ReasonerTimeout,
		})
		if err != nil {
			log.Printf("LLM disabled: %v", err)
		} else {
			reasoner = client
		}
	} else {
		log.Printf("LLM disabled: no model or API key configured, running on deterministic fallbacks")
	}

	loop := engine.NewLoop(reasoner, registry, engine.Options{
		MaxSteps:            cfg.MaxSteps,
		MaxToolCalls:        cfg.MaxToolCalls,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	loop.Events = &eventbus.LoopSink{Bus: bus}

	if cfg.SeedOnStart {
		seeded, err := seed.LoadIfEmpty(context.Background(), graphStore, index, embedder)
		if err != nil {
			log.Fatalf("seed lineage: %v", err)
		}
		if seeded {
			log.Printf("seeded sample lineage")
		}
	}

	apiServer := &api.Server{
		Loop:      loop,
		Runs:      runStore,
		Graph:     graphStore,
		Bus:       bus,
		StartedAt: time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	go func() {
		log.Printf("lineaged listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
