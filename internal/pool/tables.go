package pool

import (
	"context"
	"fmt"

	"github.com/roach88/fsidx/internal/ddl"
)

// TableCreatingConn is a read-write connection that can create tables
// through the pool's DDL converter.
type TableCreatingConn struct {
	*Conn
	converter ddl.Converter
}

// AcquireDDL returns a table-creating connection. When the pool has no
// DDL converter, ok is false and no connection is acquired: the caller
// must not attempt schema creation through this pool. Release the
// returned connection with Release(conn.Conn).
func (p *Pool) AcquireDDL(ctx context.Context) (conn *TableCreatingConn, ok bool, err error) {
	if p.ddl == nil {
		return nil, false, nil
	}
	c, err := p.AcquireReadWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	return &TableCreatingConn{Conn: c, converter: p.ddl}, true, nil
}

// TableExists reports whether table exists.
func (c *TableCreatingConn) TableExists(ctx context.Context, table string) (bool, error) {
	query, args := c.converter.TableExistsQuery(table)
	var n int
	if err := c.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// CreateTable executes the converter's statements for spec.
func (c *TableCreatingConn) CreateTable(ctx context.Context, spec ddl.TableSpec) error {
	for _, stmt := range c.converter.Convert(spec) {
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// CreateNonExistingTables creates every table in specs that does not exist
// yet and returns the names it created.
//
// A pool without a DDL converter creates nothing; this is logged and is
// not an error.
func (p *Pool) CreateNonExistingTables(ctx context.Context, specs []ddl.TableSpec) ([]string, error) {
	conn, ok, err := p.AcquireDDL(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.logger.Info("pool has no DDL converter; skipping table creation", "tables", len(specs))
		return nil, nil
	}
	defer p.Release(conn.Conn)

	var created []string
	for _, spec := range specs {
		exists, err := conn.TableExists(ctx, spec.Name)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		p.logger.Info("creating table", "table", spec.Name, "dialect", conn.converter.Dialect())
		if err := conn.CreateTable(ctx, spec); err != nil {
			return created, err
		}
		created = append(created, spec.Name)
	}
	return created, nil
}
