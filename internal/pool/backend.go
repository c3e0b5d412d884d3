package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fsidx/internal/config"
)

// ModeSwitcher reads and changes a connection's session read-only flag.
// Implementations are backend specific.
type ModeSwitcher interface {
	ReadOnly(ctx context.Context, conn *sql.Conn) (bool, error)
	SetReadOnly(ctx context.Context, conn *sql.Conn, readOnly bool) error
}

// ShutdownMatcher recognizes errors that a backend raises on purpose to
// confirm a successful shutdown.
type ShutdownMatcher func(err error) bool

// Backend describes how the pool talks to one kind of database.
type Backend struct {
	// Driver is the database/sql driver name.
	Driver string

	// Embedded marks an in-process engine that needs a shutdown protocol
	// after the pool is closed.
	Embedded bool

	// DSN builds the driver data source name from configuration.
	DSN func(cfg config.PoolConfig) (string, error)

	// Modes switches session read-only state. Nil disables switching.
	Modes ModeSwitcher

	// Shutdown runs the embedded shutdown protocol. Only called when
	// Embedded is true.
	Shutdown func(ctx context.Context, dsn string) error

	// ShutdownConfirmed recognizes shutdown errors that mean success.
	ShutdownConfirmed ShutdownMatcher
}

// BackendFor returns the built-in backend for a driver name.
func BackendFor(driver string) (*Backend, error) {
	switch driver {
	case "sqlite3", "":
		return SQLiteBackend(), nil
	case "pgx":
		return PostgresBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// SQLiteBackend returns the embedded SQLite backend.
//
// Connections are opened with WAL journaling, NORMAL synchronous mode, a
// 5 second busy timeout and foreign keys enabled; these are DSN parameters
// so every pooled connection carries them. Read-only mode maps to
// PRAGMA query_only. The shutdown protocol checkpoints and truncates the
// WAL from a fresh connection once the pool is closed.
func SQLiteBackend() *Backend {
	return &Backend{
		Driver:   "sqlite3",
		Embedded: true,
		DSN:      sqliteDSN,
		Modes:    sqliteModes{},
		Shutdown: sqliteShutdown,
	}
}

// PostgresBackend returns the pgx-backed PostgreSQL backend.
func PostgresBackend() *Backend {
	return &Backend{
		Driver: "pgx",
		DSN:    postgresDSN,
		Modes:  postgresModes{},
	}
}

var sqliteDefaults = map[string]string{
	"_busy_timeout": "5000",
	"_journal_mode": "WAL",
	"_synchronous":  "NORMAL",
	"_foreign_keys": "on",
	"_txlock":       "immediate",
}

func sqliteDSN(cfg config.PoolConfig) (string, error) {
	if cfg.URL == "" {
		return "", fmt.Errorf("sqlite url is empty")
	}
	params := make(map[string]string, len(sqliteDefaults))
	for k, v := range sqliteDefaults {
		params[k] = v
	}
	for k, v := range cfg.DriverProperties() {
		params[k] = v
	}
	return appendParams(cfg.URL, params), nil
}

func postgresDSN(cfg config.PoolConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.Username != "" && u.User == nil {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}
	q := u.Query()
	for k, v := range cfg.DriverProperties() {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// appendParams appends params to base in sorted key order.
func appendParams(base string, params map[string]string) string {
	if len(params) == 0 {
		return base
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	for _, k := range keys {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(k))
		b.WriteString("=")
		b.WriteString(url.QueryEscape(params[k]))
		sep = "&"
	}
	return b.String()
}

type sqliteModes struct{}

func (sqliteModes) ReadOnly(ctx context.Context, conn *sql.Conn) (bool, error) {
	var on int
	if err := conn.QueryRowContext(ctx, "PRAGMA query_only").Scan(&on); err != nil {
		return false, err
	}
	return on != 0, nil
}

func (sqliteModes) SetReadOnly(ctx context.Context, conn *sql.Conn, readOnly bool) error {
	stmt := "PRAGMA query_only = OFF"
	if readOnly {
		stmt = "PRAGMA query_only = ON"
	}
	_, err := conn.ExecContext(ctx, stmt)
	return err
}

func sqliteShutdown(ctx context.Context, dsn string) error {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

type postgresModes struct{}

func (postgresModes) ReadOnly(ctx context.Context, conn *sql.Conn) (bool, error) {
	var v string
	if err := conn.QueryRowContext(ctx, "SHOW default_transaction_read_only").Scan(&v); err != nil {
		return false, err
	}
	return v == "on", nil
}

func (postgresModes) SetReadOnly(ctx context.Context, conn *sql.Conn, readOnly bool) error {
	stmt := "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE"
	if readOnly {
		stmt = "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	}
	_, err := conn.ExecContext(ctx, stmt)
	return err
}
