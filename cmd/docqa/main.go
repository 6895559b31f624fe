package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/chunker"
	"github.com/kailas-cloud/docqa/internal/config"
	dbRedis "github.com/kailas-cloud/docqa/internal/db/redis"
	"github.com/kailas-cloud/docqa/internal/domain"
	logpkg "github.com/kailas-cloud/docqa/internal/logger"
	"github.com/kailas-cloud/docqa/internal/metrics"
	budgetrepo "github.com/kailas-cloud/docqa/internal/repository/budget"
	"github.com/kailas-cloud/docqa/internal/repository/embcache"
	"github.com/kailas-cloud/docqa/internal/textnorm"
	chiTransport "github.com/kailas-cloud/docqa/internal/transport/chi"
	"github.com/kailas-cloud/docqa/internal/transport/hashing"
	openaiEmb "github.com/kailas-cloud/docqa/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/docqa/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/docqa/internal/usecase/health"
	usageuc "github.com/kailas-cloud/docqa/internal/usecase/usage"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
	"github.com/kailas-cloud/docqa/internal/vectorstore/memory"
	"github.com/kailas-cloud/docqa/internal/version"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(logpkg.Options{
		Env:     env,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Version: version.Resolved(),
	})
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docqa API server",
		zap.String("commit", version.Commit),
		zap.String("built", version.Date),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Bool("cache", cfg.Cache.Enabled()),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRAGMetrics()
	metrics.RegisterHTTPMetrics()

	ctx := context.Background()

	// Optional Redis: embedding cache + persisted token budget.
	var cache *dbRedis.Store
	if cfg.Cache.Enabled() {
		cache, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer cache.Close()

		if err := cache.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	// Single BudgetTracker shared by the document and query embedders.
	// Zero limits still count tokens for GET /usage.
	b := cfg.Embedding.Budget
	action := embeddinguc.BudgetActionWarn
	if b.Action == "reject" {
		action = embeddinguc.BudgetActionReject
	}
	budget := embeddinguc.NewBudgetTracker(cfg.Embedding.Provider, b.DailyTokens, b.MonthlyTokens, action, logger)
	if cache != nil {
		budget.WithStore(ctx, budgetrepo.New(cache), cfg.Cache.KeyPrefix)
	}

	base, dims := buildProvider(&cfg, logger)

	var cacheStore cacheBackend
	if cache != nil {
		cacheStore = cache
	}
	docEmbedder := buildEmbedder(&cfg, base, dims, cfg.Embedding.DocumentInstruction, cacheStore, budget, logger)
	queryEmbedder := buildEmbedder(&cfg, base, dims, cfg.Embedding.QueryInstruction, cacheStore, budget, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", dims),
	)

	normOpts := []textnorm.Option{
		textnorm.WithPhrases(cfg.Normalizer.Boilerplate...),
		textnorm.WithPatterns(cfg.Normalizer.Patterns...),
	}
	if cfg.Normalizer.DisableDefaults {
		normOpts = append(normOpts, textnorm.WithoutDefaults())
	}
	normalizer, err := textnorm.New(normOpts...)
	if err != nil {
		logger.Fatal("Invalid normalizer configuration", zap.Error(err))
	}

	indexCfg := cfg.IndexConfig()
	store := memory.New(dims, indexCfg.MinChunkChars, logger)

	engine := rag.New(normalizer, chunker.New(indexCfg), store, docEmbedder, queryEmbedder, logger).
		WithOptions(rag.Options{
			MinChunkChars: indexCfg.MinChunkChars,
			DefaultLimit:  cfg.Retrieval.DefaultLimit,
			MaxLimit:      cfg.Retrieval.MaxLimit,
			MinScore:      cfg.Retrieval.MinScore,
			EmbedWorkers:  cfg.Ingest.EmbedWorkers,
			PageWorkers:   cfg.Ingest.PageWorkers,
		})

	var cachePinger healthuc.CachePinger
	if cache != nil {
		cachePinger = cache
	}
	healthSvc := healthuc.New(newEmbeddingHealthChecker(queryEmbedder), cachePinger, engine, logger).
		WithTimeout(time.Duration(cfg.Embedding.TimeoutSec) * time.Second)

	server := chiTransport.NewServer(engine, healthSvc, logger).WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes).
		WithUsage(usageuc.New(budget))

	router := chiTransport.NewRouter(server, chiTransport.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully", zap.Int("chunks", engine.Len()))
}

// cacheBackend is what the embedding cache needs from the Redis store.
type cacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildProvider creates the base embedding provider and the vector size the store should enforce
// (0 = adopt the size of the first stored vector).
func buildProvider(cfg *config.Config, logger *zap.Logger) (domain.Embedder, int) {
	if cfg.Embedding.Provider == config.ProviderHashing {
		dims := cfg.Embedding.Dimensions
		if dims == 0 {
			dims = hashing.DefaultDimensions
		}
		return hashing.New(dims), dims
	}

	return openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	}), cfg.Embedding.Dimensions
}

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented -> Instruction
func buildEmbedder(
	cfg *config.Config,
	base domain.Embedder,
	dims int,
	instruction string,
	cache cacheBackend,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	embedder := base
	if cache != nil {
		embedder = embcache.New(base, cache, embcache.Options{
			KeyPrefix:  cfg.Cache.KeyPrefix,
			Model:      cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
			Dimensions: dims,
			TTL:        cfg.Cache.TTL(),
		}, metrics.EmbeddingCacheTotal, logger)
	}

	// Instrumented (budget + logging)
	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model, budget, logger,
	)

	// Instruction prefix (outermost, so the cache key includes the instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}
