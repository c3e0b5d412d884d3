package pool

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/config"
)

// testConfig returns a defaulted pool config for a fresh SQLite file.
func testConfig(t *testing.T) config.PoolConfig {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "pool.db"))
	return cfg.Pool
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger(level slog.Level) (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})), buf
}

// openTestPool opens a pool and shuts it down at test cleanup.
func openTestPool(t *testing.T, cfg config.PoolConfig, opts Options) *Pool {
	t.Helper()
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger, _ = newLogger(slog.LevelDebug)
	}
	p, err := New(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = p.Shutdown(context.Background()) })
	return p
}

// failingModes is a ModeSwitcher whose backend rejects mode changes.
type failingModes struct{}

func (failingModes) ReadOnly(ctx context.Context, conn *sql.Conn) (bool, error) {
	return false, nil
}

func (failingModes) SetReadOnly(ctx context.Context, conn *sql.Conn, readOnly bool) error {
	return errModeUnsupported
}

type modeError string

func (e modeError) Error() string { return string(e) }

const errModeUnsupported = modeError("read-only mode not supported by driver")

// countingModes records SetReadOnly calls on top of the SQLite switcher.
type countingModes struct {
	mu    sync.Mutex
	calls int
}

func (m *countingModes) ReadOnly(ctx context.Context, conn *sql.Conn) (bool, error) {
	return sqliteModes{}.ReadOnly(ctx, conn)
}

func (m *countingModes) SetReadOnly(ctx context.Context, conn *sql.Conn, readOnly bool) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return sqliteModes{}.SetReadOnly(ctx, conn, readOnly)
}

func (m *countingModes) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func shortWait(d time.Duration) config.Duration {
	return config.Duration{Duration: d}
}
