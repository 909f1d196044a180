// Package main is the entry point for the Shield edge gateway server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shieldedge/shield/internal/aigateway"
	"github.com/shieldedge/shield/internal/aigateway/semantic"
	"github.com/shieldedge/shield/internal/aigateway/semantic/embedding"
	"github.com/shieldedge/shield/internal/aigateway/semantic/vector"
	"github.com/shieldedge/shield/internal/config"
	"github.com/shieldedge/shield/internal/edgecache"
	"github.com/shieldedge/shield/internal/gateway"
	"github.com/shieldedge/shield/internal/kv"
	"github.com/shieldedge/shield/internal/mirror"
	"github.com/shieldedge/shield/internal/objstore"
	"github.com/shieldedge/shield/internal/observability"
	"github.com/shieldedge/shield/internal/origin"
	"github.com/shieldedge/shield/internal/relay"
	"github.com/shieldedge/shield/internal/security"
	"github.com/shieldedge/shield/internal/webcache"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	manager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      parseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		AddSource:  cfg.Logging.Source,
		JSONFormat: cfg.Logging.JSON,
	})
	slog.SetDefault(logger.Slog())
	logger.Info("starting shield gateway", "version", gateway.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}
	manager.OnChange(func(c *config.Config) {
		logger.Info("configuration file reloaded; connection settings apply on restart")
	})

	store, err := kv.NewRedisStore(cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cache := edgecache.New(store)

	originClient, err := origin.New(cfg.Origin)
	if err != nil {
		logger.Error("invalid origin configuration", "error", err)
		os.Exit(1)
	}

	var bucket *objstore.Bucket
	if cfg.Storage.Bucket != "" {
		bucket, err = objstore.New(ctx, cfg.Storage)
		if err != nil {
			// Mirroring fails open without a bucket; the gateway still serves.
			logger.Warn("object storage unavailable, mirroring disabled", "error", err)
			bucket = nil
		}
	}

	var analytics *observability.Analytics
	if bucket != nil {
		analytics = observability.NewAnalytics(cfg.Analytics, bucket, logger)
	}

	semanticCache := buildSemanticCache(ctx, cfg.AI, store, logger)

	web := webcache.New(cache, originClient, logger)

	var objectStore mirror.ObjectStore
	if bucket != nil {
		objectStore = bucket
	}
	mirrorEngine := mirror.New(objectStore, cache, originClient, web, logger)

	aiRouter := aigateway.New(cfg.AI, semanticCache, analytics, web, logger)

	upgradeRelay, err := relay.New(cfg.Origin, logger)
	if err != nil {
		logger.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	dispatcher := gateway.NewDispatcher(
		config.NewLoader(store, logger),
		security.New(store, cache, logger),
		upgradeRelay,
		web, mirrorEngine, aiRouter,
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "kv store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	mux.Handle("/", dispatcher)

	handler := observability.RequestIDMiddleware(mux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if analytics != nil {
		if err := analytics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("analytics flush incomplete", "error", err)
		}
	}
	manager.Close()
	logger.Info("server stopped")
}

// buildSemanticCache wires the embedder and vector index. Any failure
// disables the semantic cache rather than blocking startup; LLM traffic then
// goes straight upstream.
func buildSemanticCache(ctx context.Context, ai config.AIConfig, store kv.Store, logger *observability.Logger) *semantic.Cache {
	var embedder embedding.Embedder
	var err error

	switch ai.Embedding.Provider {
	case "openai":
		embedder, err = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:    ai.Embedding.APIKey,
			APIBase:   ai.Embedding.APIBase,
			Model:     ai.Embedding.Model,
			Dimension: ai.Embedding.Dimension,
			Timeout:   ai.Embedding.Timeout,
		})
	default:
		embedder, err = embedding.NewLocalEmbedder(embedding.LocalConfig{
			APIBase:   ai.Embedding.APIBase,
			APIKey:    ai.Embedding.APIKey,
			Model:     ai.Embedding.Model,
			Dimension: ai.Embedding.Dimension,
			Timeout:   ai.Embedding.Timeout,
		})
	}
	if err != nil {
		logger.Warn("semantic cache disabled: no embedder", "error", err)
		return nil
	}

	var index vector.Store
	switch ai.Vector.Kind {
	case "qdrant":
		qdrant, qerr := vector.NewQdrantStore(vector.QdrantConfig{
			APIBase:    ai.Vector.APIBase,
			APIKey:     ai.Vector.APIKey,
			Collection: ai.Vector.Collection,
			Dimension:  ai.Vector.Dimension,
			Timeout:    ai.Vector.Timeout,
		})
		if qerr != nil {
			logger.Warn("semantic cache disabled: no vector index", "error", qerr)
			return nil
		}
		if err := qdrant.EnsureCollection(ctx); err != nil {
			logger.Warn("qdrant collection setup failed", "error", err)
		}
		index = qdrant
	default:
		index = vector.NewInMemStore()
	}

	return semantic.New(embedder, index, store, logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
