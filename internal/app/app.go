// Package app wires the engram components into a running application. Both
// binaries (the CLI and the MCP server) boot through it so the wiring order
// and shutdown sequence live in one place.
package app

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/engram-sh/engram/internal/backup"
	"github.com/engram-sh/engram/internal/config"
	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/events"
	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/internal/service"
	"github.com/engram-sh/engram/internal/storage/sqlite"
	"github.com/engram-sh/engram/internal/turso"
)

// App holds the assembled components and owns their lifecycle.
type App struct {
	Config  *config.Config
	Service *service.Service

	store      *sqlite.Store
	replicator *turso.Replicator
	dispatcher *events.Dispatcher
	watcher    *events.ChangeWatcher
	pgBackend  *embedding.PostgresBackend
	log        *log.Logger
}

// New assembles the application from configuration. Nothing runs yet; call
// Start for the background workers.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataDir, err)
	}

	store, err := sqlite.NewStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database at %q: %w", cfg.DBPath(), err)
	}

	a := &App{Config: cfg, store: store, log: logger}

	cache, err := a.buildEmbeddingCache(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := search.NewEngineWithTTL(store, cfg.Search.CacheTTL, logger)
	audit := events.NewAuditLog(cfg.Storage.DataDir, logger)
	dispatcher := events.NewDispatcher(store, cfg.Webhook.Timeout, logger)
	a.dispatcher = dispatcher

	if cfg.Turso.Enabled() {
		client := turso.NewClient(cfg.Turso.URL, cfg.Turso.AuthToken, cfg.Turso.Timeout, logger)
		a.replicator = turso.NewReplicator(client, store, audit, turso.ReplicatorConfig{
			BatchSize:      cfg.Turso.BatchSize,
			InitialBackoff: cfg.Turso.InitialBackoff,
			MaxBackoff:     cfg.Turso.MaxBackoff,
		}, logger)
	}

	backups, err := backup.NewManager(cfg.DBPath(), cfg.Backup.Dir, cfg.Backup.MaxBackups, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	a.Service = service.New(service.Options{
		Store:      store,
		Cache:      cache,
		Engine:     engine,
		Replicator: a.replicator,
		Dispatcher: dispatcher,
		Audit:      audit,
		Notify:     events.NewChangeWriter(cfg.Storage.DataDir),
		Backups:    backups,
		Logger:     logger,
		DBPath:     cfg.DBPath(),
	})

	a.watcher = events.NewChangeWatcher(cfg.Storage.DataDir, a.Service.OnExternalChange, logger)
	return a, nil
}

func (a *App) buildEmbeddingCache(store *sqlite.Store) (*embedding.Cache, error) {
	cfg := a.Config.Embedding

	var backend embedding.Backend
	switch cfg.Backend {
	case "", "sqlite":
		b, err := embedding.NewSQLiteBackend(store.DB(), cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		backend = b
	case "postgres":
		b, err := embedding.NewPostgresBackend(cfg.PostgresDSN, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.pgBackend = b
		backend = b
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}

	var provider embedding.Provider
	switch cfg.Provider {
	case "", "hash":
		provider = embedding.HashProvider{Dim: cfg.Dimension}
	case "ollama":
		provider = embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.ProviderTimeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return embedding.NewCache(backend, provider, cfg.Dimension, store), nil
}

// Start launches the background workers: replication drain, webhook registry
// load, and the cross-process change watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("load webhook registry: %w", err)
	}
	if a.replicator != nil {
		a.replicator.Start()
	}
	if err := a.watcher.Start(); err != nil {
		// Cache invalidation degrades to TTL expiry; not fatal.
		a.log.Printf("[app] change watcher: %v", err)
	}
	return nil
}

// Close stops the workers and releases the store. Safe to call once.
func (a *App) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.replicator != nil {
		a.replicator.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.pgBackend != nil {
		if err := a.pgBackend.Close(); err != nil {
			a.log.Printf("[app] close embedding backend: %v", err)
		}
	}
	return a.store.Close()
}
