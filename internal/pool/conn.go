package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// Conn is a connection checked out of a Pool.
//
// A Conn lives for exactly one acquire/release scope: Pool.Release returns
// it and marks it closed, after which every operation fails with
// sql.ErrConnDone. Its read-only mode is fixed at acquisition.
//
// A Conn is not safe for concurrent use; callers serialize their own use
// of a given instance.
type Conn struct {
	id       string
	raw      *sql.Conn
	pool     *Pool
	readOnly bool
	closed   atomic.Bool
}

// ID returns the connection's identifier, used in logs.
func (c *Conn) ID() string { return c.id }

// ReadOnly reports the mode the connection was acquired in.
func (c *Conn) ReadOnly() bool { return c.readOnly }

// Closed reports whether the connection has been released.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Pool returns the owning pool.
func (c *Conn) Pool() *Pool { return c.pool }

// ExecContext executes a statement that returns no rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.Closed() {
		return nil, sql.ErrConnDone
	}
	return c.raw.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
// Callers are responsible for closing the returned rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.Closed() {
		return nil, sql.ErrConnDone
	}
	return c.raw.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.raw.QueryRowContext(ctx, query, args...)
}

// BeginTx starts an explicit transaction. Auto-commit is suspended until
// the transaction commits or rolls back.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.Closed() {
		return nil, sql.ErrConnDone
	}
	return c.raw.BeginTx(ctx, opts)
}

// PingContext verifies the connection is alive.
func (c *Conn) PingContext(ctx context.Context) error {
	if c.Closed() {
		return sql.ErrConnDone
	}
	return c.raw.PingContext(ctx)
}
