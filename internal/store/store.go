// Package store selects and opens the configured core.Store implementation.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/vulnmaster/internal/config"
	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/JonMunkholm/vulnmaster/internal/store/postgres"
	"github.com/JonMunkholm/vulnmaster/internal/store/sqlite"
)

// Open connects to the store named by cfg.Driver and ensures its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (core.Store, error) {
	var (
		s   core.Store
		err error
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		s, err = postgres.Connect(ctx, cfg)
	case config.DriverSQLite:
		s, err = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}

	slog.Info("record store ready", "driver", cfg.Driver)
	return s, nil
}
