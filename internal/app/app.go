// Package app holds the long-lived services shared by every command and wires
// them into crawl, export and status operations.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/listing-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/listing-harvester/internal/session"
)

// GCSClientFactory creates Cloud Storage clients on demand.
type GCSClientFactory func(ctx context.Context) (*storage.Client, error)

// App is the dependency container built once per command invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *checkpoint.Store
	launcher session.Launcher
	gcs      GCSClientFactory
}

// Option customizes App construction.
type Option func(*App)

// WithLauncher replaces the configured browser driver.
func WithLauncher(l session.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// WithGCSClientFactory replaces the default Cloud Storage client factory.
func WithGCSClientFactory(f GCSClientFactory) Option {
	return func(a *App) { a.gcs = f }
}

// New validates cfg and opens the checkpoint store. It fails fast when the
// checkpoint directory is unusable.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := checkpoint.New(cfg.Checkpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		gcs: func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.launcher == nil {
		a.launcher, err = newLauncher(cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newLauncher(cfg config.Config, logger *zap.Logger) (session.Launcher, error) {
	switch cfg.Browser.Driver {
	case config.DriverColly:
		return collyfetcher.NewLauncher(cfg.CollyConfig()), nil
	case config.DriverChromedp:
		l, err := headless.NewLauncher(cfg.HeadlessConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("build chromedp launcher: %w", err)
		}
		return l, nil
	default:
		return nil, errors.New("unknown browser driver " + cfg.Browser.Driver)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the checkpoint store.
func (a *App) Store() *checkpoint.Store {
	return a.store
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.logger.Sync()
}
