// Package application wires configuration, the record store and the core
// service together for the server and CLI entry points.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/vulnmaster/internal/config"
	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/JonMunkholm/vulnmaster/internal/store"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config  *config.Config
	Store   core.Store
	Service *core.Service
}

// New opens the configured store and builds the service from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	columns, err := core.LoadColumnMap(cfg.Ingest.ColumnMapFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc := core.NewService(st, ServiceOptions(cfg, columns))

	slog.Debug("service ready",
		"delimiter", string(cfg.Ingest.DelimiterRune()),
		"batch_size", cfg.Ingest.BatchSize,
		"max_concurrent", cfg.Ingest.MaxConcurrent,
		"column_map", cfg.Ingest.ColumnMapFile,
	)

	return &App{Config: cfg, Store: st, Service: svc}, nil
}

// ServiceOptions translates ingest configuration into core.Options.
func ServiceOptions(cfg *config.Config, columns core.ColumnMap) core.Options {
	return core.Options{
		Delimiter:   cfg.Ingest.DelimiterRune(),
		BatchSize:   cfg.Ingest.BatchSize,
		MaxFileSize: cfg.Ingest.MaxFileSize,
		Timeout:     cfg.Ingest.Timeout,
		Columns:     columns,
		Limiter:     core.NewIngestLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime),
	}
}

// Close waits for in-flight ingestions, bounded by ctx, then closes the store.
func (a *App) Close(ctx context.Context) error {
	limiter := a.Service.Limiter()
	if active := limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for ingestions to complete", "active", active)
		if err := limiter.WaitForDrain(ctx); err != nil {
			slog.Warn("ingestions did not complete in time", "error", err)
		} else {
			slog.Info("all ingestions completed")
		}
	}
	return a.Store.Close()
}
