// Shopilots customer support chatbot server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/shopilots-chat/internal/analytics"
	"github.com/ashureev/shopilots-chat/internal/api"
	"github.com/ashureev/shopilots-chat/internal/chat"
	"github.com/ashureev/shopilots-chat/internal/config"
	"github.com/ashureev/shopilots-chat/internal/formatter"
	"github.com/ashureev/shopilots-chat/internal/identity"
	"github.com/ashureev/shopilots-chat/internal/middleware"
	"github.com/ashureev/shopilots-chat/internal/retrieval"
	"github.com/ashureev/shopilots-chat/internal/session"
	"github.com/ashureev/shopilots-chat/internal/shared"
	"github.com/ashureev/shopilots-chat/internal/store"
	"github.com/ashureev/shopilots-chat/internal/synth"
)

const (
	sessionExpiryInterval = 10 * time.Minute
	visitorIdleTTL        = 3 * time.Minute
	archiveDrainTimeout   = 5 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_backend", cfg.ResolvedBackend())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Document index.
	docs, err := newDocumentStore(ctx, cfg)
	if err != nil {
		slog.Warn("Document index unavailable, chat requests will be rejected", "error", err)
	}
	fusion := retrieval.NewFusion(docs, cfg.Retrieval.FallbackQuery, logger)

	// Generation tier.
	synthesizer := synth.New(newGenerator(cfg, logger), formatter.New(), cfg.LLM.Temperature, logger)
	slog.Info("Synthesizer ready", "tier", synthesizer.Tier().String(), "model", synthesizer.Model())

	// Chat history.
	sessions, rdb, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
	}

	// Analytics and its durable archive.
	var (
		archive  *store.SQLiteStore
		recorder *store.Recorder
		aggOpts  []analytics.Option
	)
	if cfg.Analytics.ArchiveEnabled {
		archive, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := archive.Close(); closeErr != nil {
				slog.Error("Failed to close archive", "error", closeErr)
			}
		}()
		slog.Info("Database connected", "path", cfg.DBPath)

		recorder = store.NewRecorder(archive, cfg.Analytics.ArchiveQueueSize, logger)
		aggOpts = append(aggOpts, analytics.WithSink(recorder))
	}
	agg := analytics.New(cfg.Analytics.Capacity, aggOpts...)
	go agg.RunSweeper(ctx, cfg.Analytics.SessionTTL, 0, logger)

	svc := chat.NewService(chat.Deps{
		Retriever:    fusion,
		Synthesizer:  synthesizer,
		Sessions:     sessions,
		Analytics:    agg,
		Logger:       logger,
		TopK:         cfg.Retrieval.TopK,
		ProductQuery: cfg.Retrieval.ProductQuery,
	})

	// Initialize handlers.
	chatHandler := chat.NewHandler(svc, cfg.SSE.MaxRequestBodySize, logger)
	checks := map[string]api.Pinger{}
	var archiveStore store.EventStore
	if archive != nil {
		checks["archive"] = archive
		archiveStore = archive
	}
	if p, ok := sessions.(api.Pinger); ok {
		checks["redis"] = p
	}
	healthHandler := api.NewHealthHandler(checks)
	analyticsHandler := api.NewAnalyticsHandler(agg, archiveStore)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	limiter.StartEviction(ctx, time.Minute, visitorIdleTTL)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	analyticsHandler.RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		chatHandler.RegisterRoutes(r)
	})

	// SSE responses stream for as long as generation runs, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if recorder != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), archiveDrainTimeout)
		if err := recorder.Close(drainCtx); err != nil {
			slog.Warn("Archive queue not fully drained", "error", err)
		}
		drainCancel()
	}

	slog.Info("Server stopped successfully")
}

// newDocumentStore connects to Qdrant when configured, otherwise loads a
// local corpus file. A nil store leaves retrieval unavailable.
func newDocumentStore(ctx context.Context, cfg *config.Config) (retrieval.DocumentStore, error) {
	rc := cfg.Retrieval
	switch {
	case rc.QdrantURL != "":
		embedder := retrieval.NewOllamaEmbedder(rc.OllamaURL, rc.EmbeddingModel, rc.PoolSize)
		qs := retrieval.NewQdrantStore(rc.QdrantURL, rc.Collection, embedder, rc.PoolSize)
		n, err := qs.PointCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("qdrant collection %s: %w", rc.Collection, err)
		}
		slog.Info("Vector index connected", "collection", rc.Collection, "points", n)
		return qs, nil
	case rc.CorpusPath != "":
		ms, err := retrieval.LoadCorpus(rc.CorpusPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded local corpus", "path", rc.CorpusPath, "documents", ms.Len())
		return ms, nil
	default:
		return nil, errors.New("neither QDRANT_URL nor CORPUS_PATH is set")
	}
}

// newGenerator returns the generation backend for the resolved tier, or nil
// for rule-based answers only.
func newGenerator(cfg *config.Config, logger *slog.Logger) synth.Generator {
	// Streams are bounded by the request context, not a client timeout.
	client := shared.NewPooledHTTPClient(cfg.Retrieval.PoolSize, 0)
	switch cfg.ResolvedBackend() {
	case config.BackendOpenAI:
		return synth.NewOpenAIGenerator(cfg.LLM.OpenAIAPIKey, "", cfg.LLM.OpenAIModel, client, logger)
	case config.BackendOllama:
		return synth.NewOllamaGenerator(cfg.LLM.OllamaURL, cfg.LLM.OllamaModel, client)
	default:
		return nil
	}
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Store, *redis.Client, error) {
	sc := cfg.Session
	if sc.Backend == config.SessionRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		rs := session.NewRedisStore(rdb, sc.HistoryLength, sc.TTL)
		if err := rs.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", sc.RedisAddr, err)
		}
		slog.Info("Redis session store connected", "addr", sc.RedisAddr)
		return rs, rdb, nil
	}

	ms := session.NewMemoryStore(sc.HistoryLength)
	ms.StartExpiry(ctx, sc.TTL, sessionExpiryInterval, logger)
	return ms, nil, nil
}
