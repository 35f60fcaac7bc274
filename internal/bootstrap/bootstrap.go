package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirillkom/catalog-assistant/internal/config"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
	"github.com/kirillkom/catalog-assistant/internal/core/usecase"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/cache"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/resilience"
	sessionmemory "github.com/kirillkom/catalog-assistant/internal/infrastructure/session/memory"
	sessionredis "github.com/kirillkom/catalog-assistant/internal/infrastructure/session/redis"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/vector/memory"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/catalog-assistant/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Sessions     *usecase.SessionService
	Publisher    *nats.TurnPublisher
	SessionRepo  *postgres.SessionRepository
	HealthChecks map[string]func(context.Context) error

	closers []func()
}

type Options struct {
	Logger *zap.Logger
	// Observer receives retry and breaker events, usually the metrics registry.
	Observer resilience.Observer
}

// New wires every adapter named by cfg. Any error is a configuration error
// and the process should exit.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{Config: cfg, HealthChecks: make(map[string]func(context.Context) error)}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	executorOpts := []resilience.Option{resilience.WithLogger(logger.Named("resilience"))}
	if opts.Observer != nil {
		executorOpts = append(executorOpts, resilience.WithObserver(opts.Observer))
	}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}, executorOpts...)

	var db *sql.DB
	if cfg.VectorBackend == config.VectorBackendPGVector || cfg.SessionBackend == config.SessionBackendPostgres {
		db, err = postgres.OpenDB(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		app.HealthChecks["postgres"] = db.PingContext
	}

	client := openai.New(openai.Options{
		BaseURL:         cfg.OpenAIBaseURL,
		APIKey:          cfg.OpenAIAPIKey,
		ChatModel:       cfg.ChatModel,
		EmbedModel:      cfg.EmbedModel,
		EmbedDimensions: cfg.EmbedDimensions,
		MaxInputChars:   cfg.EmbedMaxInputChars,
		Temperature:     cfg.ChatTemperature,
		Executor:        executor,
	})
	chatModel := openai.NewChatModel(client)
	var embedder ports.Embedder = openai.NewEmbedder(client)
	if cfg.EmbedCacheTTL > 0 {
		embedder = cache.NewEmbeddingCache(embedder, cfg.EmbedCacheTTL)
	}

	index, err := app.newProductIndex(cfg, db, executor, logger)
	if err != nil {
		return nil, err
	}
	if err := index.VerifyDimension(ctx, cfg.EmbedDimensions); err != nil {
		return nil, fmt.Errorf("verify product index: %w", err)
	}

	store, err := app.newSessionStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	// Interface values stay untyped nil when a feature is off so the use cases
	// can test for absence.
	var filters ports.FilterExtractor
	if cfg.FilterExtractionEnabled {
		examples, err := cfg.LoadFilterExamples()
		if err != nil {
			return nil, err
		}
		filters = usecase.NewFilterExtractor(chatModel, examples, cfg.FilterTimeout, logger.Named("filter"))
	}

	var publisher ports.TurnPublisher
	if cfg.NATSURL != "" {
		p, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger.Named("nats"),
		})
		if err != nil {
			return nil, fmt.Errorf("init turn publisher: %w", err)
		}
		app.Publisher = p
		app.closers = append(app.closers, p.Close)
		publisher = p
	}

	synthesizer := usecase.NewAnswerSynthesizer(chatModel, cfg.CatalogSubject, cfg.SynthesisTimeout)
	pipeline := usecase.NewQueryPipeline(embedder, filters, index, synthesizer, usecase.PipelineConfig{
		TopK:             cfg.RAGTopK,
		ContextMaxChars:  cfg.ContextMaxChars,
		Subject:          cfg.CatalogSubject,
		EmbedTimeout:     cfg.EmbedTimeout,
		RetrievalTimeout: cfg.RetrievalTimeout,
	}, logger.Named("pipeline"))

	app.Sessions = usecase.NewSessionService(pipeline, store, publisher, usecase.SessionConfig{
		MaxMessages:      cfg.SessionMaxMessages,
		MaxQuestionChars: cfg.MaxQuestionChars,
	}, logger.Named("sessions"))

	logger.Info("bootstrap_complete",
		zap.String("vector_backend", cfg.VectorBackend),
		zap.String("session_backend", cfg.SessionBackend),
		zap.Bool("filter_extraction", cfg.FilterExtractionEnabled),
		zap.Bool("turn_events", publisher != nil),
	)
	return app, nil
}

func (a *App) newProductIndex(cfg config.Config, db *sql.DB, executor *resilience.Executor, logger *zap.Logger) (ports.ProductIndex, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		index, err := pgvector.New(db, cfg.PGVectorTable, executor)
		if err != nil {
			return nil, err
		}
		return index, nil
	case config.VectorBackendMemory:
		store := memory.New(cfg.EmbedDimensions)
		if cfg.MemorySeedFile != "" {
			n, err := store.LoadSeedFile(cfg.MemorySeedFile)
			if err != nil {
				return nil, fmt.Errorf("seed memory index: %w", err)
			}
			logger.Info("memory_index_seeded", zap.Int("records", n))
		}
		return store, nil
	default:
		client, err := qdrant.New(qdrant.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Executor:   executor,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client, nil
	}
}

func (a *App) newSessionStore(ctx context.Context, cfg config.Config, db *sql.DB) (ports.SessionStore, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		store, err := sessionredis.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, sessionredis.Options{TTL: cfg.SessionTTL})
		if err != nil {
			return nil, fmt.Errorf("open redis session store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.HealthChecks["redis"] = store.Ping
		return store, nil
	case config.SessionBackendPostgres:
		repo := postgres.NewSessionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		a.SessionRepo = repo
		return repo, nil
	default:
		return sessionmemory.New(cfg.SessionTTL), nil
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
