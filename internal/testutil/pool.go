package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/ddl"
	"github.com/roach88/fsidx/internal/pool"
)

// OpenPool opens a pool on a fresh SQLite file with the SQLite DDL
// converter and shuts it down at test cleanup. mutate, when non-nil,
// adjusts the defaulted pool config before the pool opens.
func OpenPool(t *testing.T, mutate func(*config.PoolConfig)) *pool.Pool {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "fsidx.db")).Pool
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := pool.New(context.Background(), cfg, pool.Options{
		Logger:     DiscardLogger(),
		Registerer: prometheus.NewRegistry(),
		DDL:        ddl.SQLiteConverter{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = p.Shutdown(context.Background()) })
	return p
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
