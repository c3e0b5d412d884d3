// Package idindex maintains the identifier index: a table of
// (pid, dcIdentifier) rows kept equal to the identifiers each object's
// DC descriptor declares, and the point lookups served from it.
//
// Writes replace an object's whole row set inside one transaction, so a
// reader sees either the old set or the new one. Two resyncs of the same
// object are not ordered by this package; callers serialize per object.
package idindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/pool"
	"github.com/roach88/fsidx/internal/query"
	"github.com/roach88/fsidx/internal/querysql"
)

// Options configure an Index.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the index metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
}

// Index is the identifier index.
type Index struct {
	pool     *pool.Pool
	store    objstore.Store
	logger   *slog.Logger
	metrics  *metrics
	compiler *querysql.Compiler

	deleteSQL string
	insertSQL string
}

// New returns an index writing through p and reading descriptors from
// store.
func New(p *pool.Pool, store objstore.Store, opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	dialect := querysql.DialectFor(p.Driver())
	return &Index{
		pool:    p,
		store:   store,
		logger:  logger,
		metrics: newMetrics(reg),
		compiler: &querysql.Compiler{
			Dialect: dialect,
			Columns: map[string]string{query.FieldIdentifier: "dcIdentifier"},
		},
		deleteSQL: fmt.Sprintf("DELETE FROM %s WHERE pid = %s", Table, dialect.Placeholder(1)),
		insertSQL: fmt.Sprintf("INSERT INTO %s (pid, dcIdentifier) VALUES (%s, %s)",
			Table, dialect.Placeholder(1), dialect.Placeholder(2)),
	}
}

// Resync replaces pid's rows with the identifiers its descriptor
// currently declares.
//
// A pid the store does not know fails with an OBJECT_NOT_FOUND error,
// and a descriptor that is present but not inline XML with an integrity
// error, both before the database is touched. Any failure after the
// transaction starts rolls it back and is reported as a storage error;
// a failed rollback is only logged.
func (ix *Index) Resync(ctx context.Context, pid string) (err error) {
	defer func() { ix.metrics.resyncs.WithLabelValues(outcome(err)).Inc() }()

	ids, err := objstore.Identifiers(ctx, ix.store, pid)
	if errors.Is(err, objstore.ErrNotFound) {
		return fserr.ObjectNotFound("resync", pid, err)
	}
	if err != nil {
		return fmt.Errorf("resync %s: %w", pid, err)
	}
	for i, id := range ids {
		ids[i] = norm.NFC.String(id)
	}

	conn, err := ix.pool.AcquireReadWrite(ctx)
	if err != nil {
		return err
	}
	defer ix.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fserr.Storage("resync", pid, fmt.Errorf("begin transaction: %w", err))
	}

	if err := ix.replaceRows(ctx, tx, pid, ids); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			ix.logger.Warn("rollback failed", "pid", pid, "error", rbErr)
		}
		return fserr.Storage("resync", pid, err)
	}
	if err := tx.Commit(); err != nil {
		return fserr.Storage("resync", pid, fmt.Errorf("commit: %w", err))
	}

	ix.metrics.rowsWritten.Add(float64(len(ids)))
	ix.logger.Debug("resynced identifiers", "pid", pid, "identifiers", len(ids))
	return nil
}

func (ix *Index) replaceRows(ctx context.Context, tx *sql.Tx, pid string, ids []string) error {
	if _, err := tx.ExecContext(ctx, ix.deleteSQL, pid); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, ix.insertSQL, pid, id); err != nil {
			return fmt.Errorf("insert %q: %w", id, err)
		}
	}
	return nil
}

// Delete removes every row for pid. Deleting an object with no rows is
// not an error.
func (ix *Index) Delete(ctx context.Context, pid string) error {
	conn, err := ix.pool.AcquireReadWrite(ctx)
	if err != nil {
		ix.metrics.deleteFailures.Inc()
		return err
	}
	defer ix.pool.Release(conn)

	if _, err := conn.ExecContext(ctx, ix.deleteSQL, pid); err != nil {
		ix.metrics.deleteFailures.Inc()
		return fserr.Storage("delete", pid, err)
	}
	ix.logger.Debug("deleted identifiers", "pid", pid)
	return nil
}

// Lookup returns the pids owning an identifier equal to value, sorted
// and without duplicates.
func (ix *Index) Lookup(ctx context.Context, value string) ([]string, error) {
	return ix.Find(ctx, query.Condition{Property: query.FieldIdentifier, Operator: query.Equals, Value: value})
}

// Find runs a single-condition lookup on the identifier field. Only the
// EQUALS and CONTAINS operators are served; CONTAINS matches a
// case-insensitive substring with wildcard characters taken literally.
func (ix *Index) Find(ctx context.Context, cond query.Condition) ([]string, error) {
	if cond.Property != query.FieldIdentifier {
		return nil, fserr.New(fserr.CodeUnrecognizedField, "lookup",
			fmt.Sprintf("identifier index cannot serve property %q", cond.Property))
	}
	if cond.Operator != query.Equals && cond.Operator != query.Contains {
		return nil, fmt.Errorf("lookup: %w: operator %q not served by the identifier index",
			query.ErrInvalidCondition, cond.Operator)
	}
	cond.Value = norm.NFC.String(cond.Value)
	ix.metrics.lookups.WithLabelValues(cond.Operator.Name()).Inc()
	return ix.find(ctx, cond)
}

func (ix *Index) lookupStatement(cond query.Condition) (string, []any, error) {
	stmt, args, err := ix.compiler.Compile(querysql.Select{
		From:     Table,
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    []query.Condition{cond},
		OrderBy:  []string{"pid"},
	})
	if err != nil {
		return "", nil, fmt.Errorf("lookup: %w", err)
	}
	return stmt, args, nil
}

func (ix *Index) find(ctx context.Context, cond query.Condition) ([]string, error) {
	start := time.Now()
	defer func() { ix.metrics.lookupDuration.Observe(time.Since(start).Seconds()) }()

	stmt, args, err := ix.lookupStatement(cond)
	if err != nil {
		return nil, err
	}

	conn, err := ix.pool.AcquireReadOnly(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fserr.Storage("lookup", "", err)
	}
	defer rows.Close()

	pids := []string{}
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fserr.Storage("lookup", "", err)
		}
		pids = append(pids, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage("lookup", "", err)
	}
	return pids, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case fserr.IsIntegrity(err):
		return "integrity"
	case fserr.IsObjectNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// Stats counts the index's rows and the distinct objects they belong to.
type Stats struct {
	Objects int64 `json:"objects"`
	Rows    int64 `json:"rows"`
}

// Stats reads the current row counts.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	conn, err := ix.pool.AcquireReadOnly(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer ix.pool.Release(conn)

	var st Stats
	row := conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT pid), COUNT(*) FROM "+Table)
	if err := row.Scan(&st.Objects, &st.Rows); err != nil {
		return Stats{}, fserr.Storage("stats", "", err)
	}
	return st, nil
}
