package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knoguchi/scholarag/internal/cache"
	"github.com/knoguchi/scholarag/internal/config"
	"github.com/knoguchi/scholarag/internal/embedder"
	"github.com/knoguchi/scholarag/internal/generator"
	"github.com/knoguchi/scholarag/internal/llm"
	"github.com/knoguchi/scholarag/internal/metadata"
	"github.com/knoguchi/scholarag/internal/repository"
	"github.com/knoguchi/scholarag/internal/repository/postgres"
	"github.com/knoguchi/scholarag/internal/reranker"
	"github.com/knoguchi/scholarag/internal/retriever"
	"github.com/knoguchi/scholarag/internal/searchindex"
	"github.com/knoguchi/scholarag/internal/server"
	"github.com/knoguchi/scholarag/internal/service"
	"github.com/knoguchi/scholarag/internal/vectorstore"
)

// logLevel is raised or lowered once the configuration is loaded.
var logLevel = new(slog.LevelVar)

func main() {
	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		slog.Warn("unknown LOG_LEVEL, keeping info", "log_level", cfg.LogLevel)
	}

	slog.Info("starting scholarag service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"index_dialect", cfg.IndexDialect,
		"reranker", cfg.Reranker,
	)

	checks := map[string]server.Pinger{}

	// Initialize the paragraph index
	dialect, closeIndex, err := openDialect(cfg)
	if err != nil {
		return err
	}
	defer closeIndex()
	index := searchindex.New(dialect, cfg.IndexParagraphs,
		searchindex.WithTimeout(cfg.IndexTimeout),
		searchindex.WithLogger(slog.Default()),
	)
	checks["index"] = index
	slog.Info("initialized paragraph index", "dialect", dialect.Name(), "index", cfg.IndexParagraphs)

	// Initialize the result cache
	var store cache.Store = cache.NopStore{}
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create cache: %w", err)
		}
		defer redisStore.Close()
		store = redisStore
		slog.Info("initialized Redis cache", "ttl", cfg.CacheTTL)
	} else {
		slog.Warn("REDIS_URL not set, caching disabled")
	}

	// Initialize the journal registry
	enricherOpts := []metadata.Option{metadata.WithLogger(slog.Default())}
	var journals repository.JournalSearcher
	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		journalRepo := postgres.NewJournalRepo(db)
		journals = journalRepo
		enricherOpts = append(enricherOpts, metadata.WithJournals(journalRepo))
		checks["database"] = db
		slog.Info("connected to PostgreSQL")
	}
	if cfg.MetadataExternalAPIs {
		enricherOpts = append(enricherOpts, metadata.WithCitations(
			metadata.NewCrossrefClient(cfg.CrossrefURL, metadata.WithMailto(cfg.CrossrefMailto)),
		))
	}
	enricher := metadata.New(index, enricherOpts...)

	// Initialize Ollama embedder
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})

	// Initialize Ollama LLM
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	rr, closeReranker, err := newReranker(cfg, embed, llmClient)
	if err != nil {
		return err
	}
	defer closeReranker()

	// Initialize services
	gen := generator.New(llmClient, generator.Options{
		Model:         cfg.OllamaLLMModel,
		Temperature:   cfg.LLMTemperature,
		MaxTokens:     cfg.LLMMaxTokens,
		ContextWindow: cfg.LLMContextWindow,
		Timeout:       cfg.GenerationTimeout,
	}, slog.Default())

	qaOpts := []service.QAOption{
		service.WithRerankTimeout(cfg.RerankerTimeout),
		service.WithEnricher(enricher),
		service.WithCache(store, cfg.CacheTTL),
		service.WithLogger(slog.Default()),
	}
	if rr != nil {
		qaOpts = append(qaOpts, service.WithReranker(rr))
	}
	qaSvc := service.NewQAService(retriever.New(index, slog.Default()), gen, qaOpts...)
	articleSvc := service.NewArticleService(index, enricher, cfg.ListingMaxResults, slog.Default())
	suggestionSvc := service.NewSuggestionService(index, journals, slog.Default())
	checks["cache"] = server.PingFunc(qaSvc.CachePing)
	settings := cfg.Redacted()

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		QueryMaxSize:   cfg.QueryMaxSize,
		Checks:         checks,
		Suggestions:    suggestionSvc,
		Settings:       settings,
	}, qaSvc, articleSvc)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// openDialect connects the configured index dialect. The returned func
// releases it.
func openDialect(cfg *config.Config) (searchindex.Dialect, func(), error) {
	switch cfg.IndexDialect {
	case config.DialectBleve:
		idx, err := searchindex.OpenBleve(cfg.BlevePath)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := idx.Close(); err != nil {
				slog.Error("failed to close bleve index", "error", err)
			}
		}
		return searchindex.NewBleve(idx, cfg.IndexParagraphs), closeFn, nil
	default:
		d, err := searchindex.NewElastic(searchindex.ElasticConfig{
			URL:      cfg.ElasticURL,
			Username: cfg.ElasticUser,
			Password: cfg.ElasticPassword,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}
}

// newReranker builds the configured reranker. A nil reranker disables
// reranking for every request.
func newReranker(cfg *config.Config, embed embedder.Embedder, llmClient llm.LLM) (reranker.Reranker, func(), error) {
	noop := func() {}

	switch cfg.Reranker {
	case config.RerankerService:
		return reranker.NewServiceReranker(cfg.RerankerURL, cfg.RerankerToken,
			reranker.WithLogger(slog.Default())), noop, nil
	case config.RerankerEmbedding:
		return reranker.NewEmbeddingReranker(embed), noop, nil
	case config.RerankerVector:
		store, err := vectorstore.NewQdrantStore(cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)
		closeFn := func() {
			if err := store.Close(); err != nil {
				slog.Error("failed to close qdrant client", "error", err)
			}
		}
		return reranker.NewVectorReranker(store, embed, slog.Default()), closeFn, nil
	case config.RerankerLLM:
		return reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaLLMModel)), noop, nil
	default:
		slog.Warn("no reranker configured, candidates are truncated to reranker_k")
		return nil, noop, nil
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.JournalRepository = (*postgres.JournalRepo)(nil)
	_ vectorstore.VectorStore      = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder            = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                      = (*llm.OllamaClient)(nil)
	_ server.QAService             = (*service.QAService)(nil)
	_ server.ArticleService        = (*service.ArticleService)(nil)
	_ server.SuggestionService     = (*service.SuggestionService)(nil)
	_ service.SuggestionIndex      = (*searchindex.Index)(nil)
	_ repository.JournalSearcher   = (*postgres.JournalRepo)(nil)
	_ cache.Store                  = (*cache.RedisStore)(nil)
)
