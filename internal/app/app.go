// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/discord-event-crawler/internal/config"
	"github.com/JakeFAU/discord-event-crawler/internal/storage/memory"
	"github.com/JakeFAU/discord-event-crawler/internal/storage/postgres"
	"github.com/JakeFAU/discord-event-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/discord-event-crawler/internal/store"
)

// App holds the services every command shares: the configuration, the
// logger and the transactional store.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  store.Store
}

// Config returns the validated configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the transactional store.
func (a *App) Store() store.Store {
	return a.store
}

// New opens the configured store and applies its schema when enabled. It
// fails fast if the store cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services", zap.String("store", cfg.Store.Driver))

	st, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, logger: logger, store: st}, nil
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// OpenStore builds the store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err = postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			ConnectAttempts: cfg.ConnectAttempts,
		}, logger)
	case config.DriverSQLite:
		st, err = sqlite.Open(ctx, cfg.DSN, logger)
	case config.DriverMemory:
		logger.Warn("Using the in-memory store. Crawl progress is lost on exit.")
		st = memory.NewStore()
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if m, ok := st.(migrator); ok && cfg.Migrate {
		if err := m.Migrate(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("migrate %s store: %w", cfg.Driver, err), st.Close())
		}
		logger.Info("Store schema is up to date", zap.String("store", cfg.Driver))
	}
	return st, nil
}

// Close releases the store and flushes the logger.
func (a *App) Close() {
	a.logger.Info("Shutting down application services")
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store", zap.Error(err))
	}
	// Syncing stderr fails on some platforms; nothing useful can be done.
	_ = a.logger.Sync()
}
