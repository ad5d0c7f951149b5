package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/vulnmaster/internal/config"
	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, URL: filepath.Join(t.TempDir(), "app.db")},
		Ingest: config.IngestConfig{
			Delimiter:     "tab",
			MaxFileSize:   1 << 20,
			MaxConcurrent: 3,
			MaxWaitTime:   time.Second,
			BatchSize:     50,
			Timeout:       time.Minute,
		},
	}
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, sqliteConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	path := filepath.Join(t.TempDir(), "tabs.csv")
	require.NoError(t, os.WriteFile(path, []byte("CVE ID\tProduct\nCVE-2024-1\tGateway\n"), 0o644))

	res, err := app.Service.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 3, app.Service.Limiter().Status().MaxConcurrent)
}

func TestNew_BadColumnMap(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Ingest.ColumnMapFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestServiceOptions(t *testing.T) {
	cfg := sqliteConfig(t)
	opts := ServiceOptions(cfg, core.DefaultColumnMap())

	assert.Equal(t, '\t', opts.Delimiter)
	assert.Equal(t, 50, opts.BatchSize)
	assert.Equal(t, int64(1<<20), opts.MaxFileSize)
	assert.Equal(t, time.Minute, opts.Timeout)
	require.NotNil(t, opts.Limiter)
	assert.Equal(t, 3, opts.Limiter.Available())
}
