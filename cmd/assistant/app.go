package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/internal/daemon"
	"github.com/dkotama/firefly-telegram-assistant/internal/ingest"
	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
	"github.com/dkotama/firefly-telegram-assistant/pkg/client"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
	"github.com/dkotama/firefly-telegram-assistant/pkg/embedding"
	geminiembed "github.com/dkotama/firefly-telegram-assistant/pkg/embedding/gemini"
	"github.com/dkotama/firefly-telegram-assistant/pkg/embedding/hashing"
	openaiembed "github.com/dkotama/firefly-telegram-assistant/pkg/embedding/openai"
	"github.com/dkotama/firefly-telegram-assistant/pkg/llm"
	geminillm "github.com/dkotama/firefly-telegram-assistant/pkg/llm/gemini"
	openaillm "github.com/dkotama/firefly-telegram-assistant/pkg/llm/openai"
	fireflyreader "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/readers/firefly"
	csvplugin "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/writers/csv"
	fireflywriter "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/writers/firefly"
	jsonplugin "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/writers/json"
	pgplugin "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/writers/postgres"
	sheetsplugin "github.com/dkotama/firefly-telegram-assistant/pkg/plugins/writers/sheets"
	"github.com/dkotama/firefly-telegram-assistant/pkg/session"
	redissession "github.com/dkotama/firefly-telegram-assistant/pkg/session/redis"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/memory"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/postgres"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/qdrant"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store/sqlite"
)

const fireflyTimeout = 30 * time.Second

// newRegistry registers every built-in reader and writer plugin.
func newRegistry() (*plugins.Registry, error) {
	registry := plugins.NewRegistry()

	if err := registry.RegisterReader(&fireflyreader.Plugin{}); err != nil {
		return nil, fmt.Errorf("registering firefly reader: %w", err)
	}

	writers := []plugins.WriterPlugin{
		&fireflywriter.Plugin{},
		&csvplugin.Plugin{},
		&jsonplugin.Plugin{},
		&pgplugin.Plugin{},
		&sheetsplugin.Plugin{},
	}
	for _, w := range writers {
		if err := registry.RegisterWriter(w); err != nil {
			return nil, fmt.Errorf("registering %s writer: %w", w.Name(), err)
		}
	}
	return registry, nil
}

// clientFunc hands Firefly plugins a bearer client and Google plugins an
// OAuth client for their scopes.
func clientFunc(cfg config.Config) daemon.ClientFunc {
	return func(ctx context.Context, scopes []string) (*http.Client, error) {
		if len(scopes) == 0 {
			return client.NewBearer(ctx, cfg.Firefly.APIToken, fireflyTimeout)
		}
		return client.NewGoogle(ctx, config.ClientSecretFile, cfg.GoogleTokenFile, scopes...)
	}
}

func openStore(ctx context.Context, cfg config.Config, dim int, logger *slog.Logger) (store.Store, error) {
	logger = logger.With("component", "store", "backend", cfg.Store.Backend)

	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.Store.SQLitePath}, logger)
	case "postgres":
		pg := cfg.Store.Postgres
		return postgres.New(ctx, postgres.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
		}, logger)
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			Addr:       cfg.Store.QdrantAddr,
			Collection: cfg.Store.QdrantCollection,
			Dimension:  dim,
		}, logger)
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
}

func newEmbedder(ctx context.Context, cfg config.Config) (embedding.Provider, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "hashing":
		return hashing.New(e.Dimensions), nil
	case "openai":
		return openaiembed.New(openaiembed.Config{
			APIKey:     cfg.LLM.OpenAIKey,
			BaseURL:    cfg.LLM.OpenAIBaseURL,
			Model:      e.Model,
			Dimensions: e.Dimensions,
		})
	case "gemini":
		return geminiembed.New(ctx, geminiembed.Config{
			APIKey:     cfg.LLM.GeminiKey,
			Model:      e.Model,
			Dimensions: e.Dimensions,
		})
	}
	return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", e.Provider)
}

// newRefiner returns nil when no language model is configured.
func newRefiner(ctx context.Context, cfg config.Config) (llm.Refiner, error) {
	l := cfg.LLM
	switch l.Provider {
	case "none":
		return nil, nil
	case "openai":
		return openaillm.New(openaillm.Config{
			APIKey:      l.OpenAIKey,
			BaseURL:     l.OpenAIBaseURL,
			Model:       l.Model,
			Temperature: l.Temperature,
		})
	case "gemini":
		return geminillm.New(ctx, geminillm.Config{
			APIKey:      l.GeminiKey,
			Model:       l.Model,
			Temperature: l.Temperature,
		})
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", l.Provider)
}

// newSessions returns the session store and a function releasing it.
func newSessions(ctx context.Context, cfg config.Config) (session.Store, func() error, error) {
	s := cfg.Session
	switch s.Backend {
	case "memory":
		return session.NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		rs, err := redissession.New(ctx, redissession.Config{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			TTL:      2 * s.IdleTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown SESSION_BACKEND %q", s.Backend)
}

// pipeline is what both run and sync need: the plugin registry, the vector
// store and the ingest writer that fills it.
type pipeline struct {
	cfg      config.Config
	registry *plugins.Registry
	store    store.Store
	embedder embedding.Provider
	catalog  *catalog.Catalog
	ingest   *ingest.Writer
}

func newPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}
	logger.Info("plugins registered",
		"readers", len(registry.ListReaders()),
		"writers", len(registry.ListWriters()),
	)

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	st, err := openStore(ctx, cfg, embedder.Dimension(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cat := catalog.New()
	ing := ingest.New(st, embedder, cat, ingest.Config{}, logger.With("component", "ingest"))

	logger.Info("pipeline ready",
		"store", cfg.Store.Backend,
		"embedding", cfg.Embedding.Provider,
		"dimensions", embedder.Dimension(),
	)

	return &pipeline{
		cfg:      cfg,
		registry: registry,
		store:    st,
		embedder: embedder,
		catalog:  cat,
		ingest:   ing,
	}, nil
}

func (p *pipeline) runner(deps daemon.Deps, logger *slog.Logger) *daemon.Runner {
	deps.Ingest = p.ingest
	deps.Catalog = p.catalog
	return daemon.New(p.registry, clientFunc(p.cfg), deps, logger.With("component", "daemon"))
}

func (p *pipeline) Close() error {
	return p.store.Close()
}
