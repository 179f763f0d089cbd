package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/birkanzambak/scientific-ai-orchestrator/internal/api"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/buildconfig"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/config"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/domain"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/embedding"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/events"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/evidence"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/llm"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/pipeline"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/retraction"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/service"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/store"
	"github.com/birkanzambak/scientific-ai-orchestrator/internal/worker"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(config.LogLevel())
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Store
	var (
		taskStore  domain.TaskStore
		ping       api.Pinger
		closeStore func()
	)

	switch driver := config.StoreDriver(); driver {
	case "memory":
		taskStore = store.NewMemoryStore()
		logger.Info("using in-memory store")
	case "sqlite":
		st, err := store.NewSQLiteStore(ctx, config.SQLitePath())
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		taskStore = st
		closeStore = func() { _ = st.Close() }
		logger.Info("using sqlite store", zap.String("path", config.SQLitePath()))
	case "postgres":
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres store")
		}
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := db.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		st := store.NewPostgresStore(db)
		if err := st.InitSchema(ctx); err != nil {
			logger.Fatal("failed to initialize schema", zap.Error(err))
		}
		taskStore = st
		ping = db.Ping
		closeStore = db.Close
		logger.Info("connected to database")
	default:
		logger.Fatal("unknown store driver", zap.String("driver", driver))
	}

	// Retraction registry
	registry := retraction.NewRegistry()
	if path := config.RetractionsPath(); path != "" {
		if err := registry.LoadFile(path); err != nil {
			logger.Warn("failed to load retractions file", zap.String("path", path), zap.Error(err))
		} else {
			logger.Info("retraction registry loaded", zap.String("path", path), zap.Int("entries", registry.Len()))
		}
	}

	// Evidence sources, each behind its own circuit breaker
	fetchers := []evidence.Fetcher{
		evidence.NewBreakerFetcher(evidence.NewArxivClient(), logger),
		evidence.NewBreakerFetcher(evidence.NewCrossrefClient(config.CrossrefMailto()), logger),
		evidence.NewBreakerFetcher(evidence.NewPubMedClient(), logger),
	}
	aggregator := evidence.NewAggregator(fetchers, registry, evidence.DefaultScoreWeights(), logger)

	// External clients via provider factory
	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey())
	if err != nil {
		logger.Fatal("LLM client initialization failed", zap.String("provider", config.LLMProvider()), zap.Error(err))
	}
	logger.Info("LLM client initialized", zap.String("provider", config.LLMProvider()))

	// Pipeline
	policy := pipeline.DefaultRetryPolicy()
	policy.MaxAttempts = config.RetryMaxAttempts()
	policy.BaseBackoff = config.RetryBaseBackoff()

	guard := pipeline.NewCostGuard(pipeline.DefaultTiers(), config.CostThreshold())
	classifier := pipeline.NewClassifier(llmClient, config.ClassifierModel(), logger)
	reasoner := pipeline.NewReasoner(llmClient, guard, config.ReasonerModel(), logger)
	critic := pipeline.NewCritic(llmClient, config.CriticModel(), logger)
	executor := pipeline.NewExecutor(logger)

	verifyCfg := pipeline.DefaultVerificationConfig()
	verifyCfg.MaxIterations = config.MaxVerifyIterations()
	verifyCfg.ReasonPolicy = policy
	verifyCfg.CritiquePolicy = policy
	loop := pipeline.NewVerificationLoop(reasoner, critic, executor, verifyCfg, logger)

	orchCfg := pipeline.DefaultOrchestratorConfig()
	orchCfg.MaxResults = config.MaxEvidenceResults()
	orchCfg.ClassificationPolicy = policy
	orchCfg.RetrievalPolicy = policy

	bus := events.NewBus()
	orch := pipeline.NewOrchestrator(taskStore, bus, classifier, aggregator, loop, executor, orchCfg, logger)

	embedClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("embedding client initialization failed, related-task lookup disabled", zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
	} else {
		orch.SetEmbedder(embedClient)
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	// Workers
	pool := worker.NewPool(taskStore, orch, worker.Config{
		Workers:       config.WorkerCount(),
		QueueCapacity: config.QueueCapacity(),
	}, logger)
	pool.Start()

	svc := service.NewTaskService(taskStore, bus, pool, logger)
	app := api.NewApp(svc, ping, logger)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()),
			zap.String("commit", buildconfig.Commit()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	bus.Close()
	if closeStore != nil {
		closeStore()
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return zap.Must(cfg.Build())
}
