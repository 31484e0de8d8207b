package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/authoring"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/cache"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/catalog"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/dashboard"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/llm"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progress"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/sandbox"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage/local"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage/postgres"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage/sqlite"
)

// Backend is an open store plus, for postgres, the cross-replica relay.
type Backend struct {
	Store storage.Store
	Relay realtime.Relay
	Kind  string
}

// OpenStore opens and migrates the configured backend.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store {
	case "", "sqlite":
		if err := os.MkdirAll(cfg.StorePath, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		db, err := sqlite.Open(filepath.Join(cfg.StorePath, "guild.db"))
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &Backend{Store: sqlite.NewStore(db), Kind: "sqlite"}, nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &Backend{
			Store: postgres.NewStore(pool),
			Relay: postgres.NewNotifier(pool, cfg.DatabaseURL, logger),
			Kind:  "postgres",
		}, nil

	case "local":
		store, err := local.NewStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, Kind: "local"}, nil

	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite, postgres or local)", cfg.Store)
	}
}

// App is the set of services shared by guildd and the guild CLI's local
// commands.
type App struct {
	Backend   *Backend
	Cache     cache.Cache
	LLM       *llm.Registry
	Bus       *realtime.Bus
	Progress  *progress.Service
	Catalogs  *catalog.Service
	Roster    *roster.Service
	Practice  *practice.Service
	Dashboard *dashboard.Service
	Generator *authoring.Generator
	Tokens    *auth.Issuer

	closers []func(context.Context) error
	logger  *slog.Logger
}

// NewApp wires the services over the configured store.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Backend: backend, logger: logger}
	a.closers = append(a.closers, func(context.Context) error { return backend.Store.Close() })

	a.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.Cache = cache.NewRedis(client, cfg.CacheTTL)
			a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		}
	}

	a.LLM, err = llm.NewRegistryFromSettings(ctx, llm.Settings{
		Default:         cfg.LLMProvider,
		Model:           cfg.LLMModel,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OllamaURL:       cfg.OllamaURL,
		OllamaModel:     cfg.OllamaModel,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setup llm providers: %w", err)
	}

	var trial evaluation.TrialRunner
	if cfg.SandboxEnabled {
		docker, err := sandbox.NewDockerBackend()
		if err != nil {
			logger.Warn("docker not available, trial runs disabled", "error", err)
		} else {
			a.closers = append(a.closers, func(context.Context) error { return docker.Close() })
			trial = sandbox.NewRunner(docker, sandbox.Config{
				MemoryMB:   cfg.SandboxMemoryMB,
				CPULimit:   cfg.SandboxCPULimit,
				NetworkOff: true,
				Timeout:    cfg.SandboxTimeout,
				Images:     cfg.SandboxImages,
			}, logger)
		}
	}

	store := backend.Store
	a.Bus = realtime.NewBus(backend.Relay, logger)
	a.Progress = progress.NewService(store, progress.Config{
		Debounce:    cfg.Debounce,
		MaxFeedback: cfg.MaxFeedback,
		IdleTimeout: progress.DefaultConfig().IdleTimeout,
	}, logger,
		progress.WithPublisher(a.Bus),
		progress.WithProfileCache(cache.Invalidator{Cache: a.Cache, Logger: logger}),
	)
	a.closers = append(a.closers, a.Progress.Close)

	a.Catalogs = catalog.NewService(store, domain.Thresholds{
		Medium:      &cfg.MediumThreshold,
		Hard:        &cfg.HardThreshold,
		Challenging: &cfg.ChallengingThreshold,
	}, logger)
	a.Roster = roster.NewService(store, auth.NewHasher(), a.Cache, a.Bus, logger)

	orch := evaluation.NewOrchestrator(a.LLM, a.Progress, trial, evaluation.Config{MaxFeedback: cfg.MaxFeedback}, logger)
	a.Practice = practice.NewService(store, a.Catalogs, a.Progress, orch, logger)
	a.Dashboard = dashboard.NewService(store, logger)
	a.Generator = authoring.NewGenerator(a.LLM, logger)

	a.Tokens, err = auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	if cfg.CatalogDir != "" {
		if _, err := a.Catalogs.Seed(ctx, cfg.CatalogDir); err != nil {
			logger.Warn("catalog seeding failed", "dir", cfg.CatalogDir, "error", err)
		}
	}

	logger.Info("services ready", "store", backend.Kind, "llm_providers", a.LLM.List(), "sandbox", trial != nil)
	return a, nil
}

// Close flushes pending drafts and releases connections in reverse order of
// creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
