// Package fieldsearch is the generic field search engine: it keeps a
// doFields table of object properties and Dublin Core values and answers
// condition queries with paged results.
//
// A search returning more objects than fit in one page opens a session.
// The session's token resumes the search with the next page until the
// list is exhausted or the session expires.
package fieldsearch

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/ddl"
	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/pool"
	"github.com/roach88/fsidx/internal/query"
	"github.com/roach88/fsidx/internal/querysql"
)

// Table is the field table.
const Table = "doFields"

//go:embed dbspec.yaml
var dbspec []byte

// TableSpecs returns the engine's table definitions.
func TableSpecs() ([]ddl.TableSpec, error) {
	return ddl.ParseSpecs(dbspec)
}

// Options configure an Engine.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// Clock drives session expiry. Defaults to the system clock.
	Clock Clock

	// Tokens generates session tokens. Defaults to UUIDv7.
	Tokens TokenGenerator
}

// Engine is the generic field search engine.
type Engine struct {
	pool     *pool.Pool
	store    objstore.Store
	cfg      config.SearchConfig
	logger   *slog.Logger
	metrics  *metrics
	clock    Clock
	tokens   TokenGenerator
	sessions *sessions
	compiler *querysql.Compiler
	dialect  querysql.Dialect
}

// New returns an engine over p reading objects from store. cfg must have
// defaults applied.
func New(p *pool.Pool, store objstore.Store, cfg config.SearchConfig, opts Options) *Engine {
	e := &Engine{
		pool:     p,
		store:    store,
		cfg:      cfg,
		logger:   opts.Logger,
		clock:    opts.Clock,
		tokens:   opts.Tokens,
		sessions: newSessions(),
		dialect:  querysql.DialectFor(p.Driver()),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.tokens == nil {
		e.tokens = uuidTokens{}
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e.metrics = newMetrics(reg)
	e.compiler = &querysql.Compiler{
		Dialect:    e.dialect,
		Columns:    knownFields,
		Attributes: &querysql.Attributes{Table: Table, Key: "pid", Name: "field", Value: "value"},
		Wildcards:  true,
	}
	return e
}

// EnsureSchema creates the field table if it does not exist.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	specs, err := TableSpecs()
	if err != nil {
		return err
	}
	created, err := e.pool.CreateNonExistingTables(ctx, specs)
	if err != nil {
		return fmt.Errorf("ensure field search schema: %w", err)
	}
	if len(created) > 0 {
		e.logger.Info("created field search tables", "tables", created)
	}
	return nil
}

// Update replaces pid's rows with the object's current fields. A pid the
// store does not know fails with an OBJECT_NOT_FOUND error.
func (e *Engine) Update(ctx context.Context, pid string) (err error) {
	defer func() { e.metrics.updates.WithLabelValues("update", outcome(err)).Inc() }()

	obj, err := e.store.Object(ctx, pid)
	if errors.Is(err, objstore.ErrNotFound) {
		return fserr.ObjectNotFound("update", pid, err)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", pid, err)
	}
	rows, err := rowsFor(obj, e.cfg.IndexesDCFields())
	if err != nil {
		return err
	}

	conn, err := e.pool.AcquireReadWrite(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fserr.Storage("update", pid, fmt.Errorf("begin transaction: %w", err))
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE pid = %s", Table, e.dialect.Placeholder(1))
	ins := fmt.Sprintf("INSERT INTO %s (pid, field, seq, value) VALUES (%s)", Table, e.dialect.List(1, 4))

	werr := func() error {
		if _, err := tx.ExecContext(ctx, del, pid); err != nil {
			return err
		}
		for i, r := range rows {
			if _, err := tx.ExecContext(ctx, ins, pid, r.field, i, norm.NFC.String(r.value)); err != nil {
				return err
			}
		}
		return nil
	}()
	if werr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Warn("rollback failed", "pid", pid, "error", rbErr)
		}
		return fserr.Storage("update", pid, werr)
	}
	if err := tx.Commit(); err != nil {
		return fserr.Storage("update", pid, fmt.Errorf("commit: %w", err))
	}
	e.logger.Debug("updated field rows", "pid", pid, "rows", len(rows))
	return nil
}

// Delete removes pid's rows. It reports whether the object had any.
func (e *Engine) Delete(ctx context.Context, pid string) (deleted bool, err error) {
	defer func() { e.metrics.updates.WithLabelValues("delete", outcome(err)).Inc() }()

	conn, err := e.pool.AcquireReadWrite(ctx)
	if err != nil {
		return false, err
	}
	defer e.pool.Release(conn)

	res, err := conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE pid = %s", Table, e.dialect.Placeholder(1)), pid)
	if err != nil {
		return false, fserr.Storage("delete", pid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fserr.Storage("delete", pid, err)
	}
	return n > 0, nil
}

// FindObjects runs q and returns the first page of matching objects with
// resultFields populated. At most min(maxResults, the configured
// maxResults) objects are returned per page; a non-positive maxResults
// means the configured limit.
func (e *Engine) FindObjects(ctx context.Context, resultFields []string, maxResults int, q query.Query) (*Result, error) {
	e.metrics.searches.Inc()
	e.pruneSessions()

	if len(resultFields) == 0 {
		resultFields = []string{query.FieldPID}
	}
	for _, f := range resultFields {
		if _, ok := knownFields[f]; !ok {
			return nil, unrecognized(f)
		}
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("find objects: %w", err)
	}
	for _, c := range q.Conditions {
		if _, ok := knownFields[c.Property]; !ok {
			return nil, unrecognized(c.Property)
		}
	}

	pageSize := e.cfg.MaxResults
	if maxResults > 0 && maxResults < pageSize {
		pageSize = maxResults
	}
	sess := &session{
		query:        normalized(q),
		resultFields: resultFields,
		pageSize:     pageSize,
	}

	conn, err := e.pool.AcquireReadOnly(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	complete, err := e.count(ctx, conn, sess.query)
	if err != nil {
		return nil, err
	}
	sess.complete = complete
	return e.page(ctx, conn, sess, "")
}

// ResumeFindObjects returns the next page of the session identified by
// token. An unknown or expired token fails with SESSION_NOT_FOUND.
func (e *Engine) ResumeFindObjects(ctx context.Context, token string) (*Result, error) {
	e.pruneSessions()
	sess, ok := e.sessions.take(token, e.clock.Now())
	if !ok {
		e.metrics.resumes.WithLabelValues("not_found").Inc()
		return nil, fserr.New(fserr.CodeSessionNotFound, "resume find objects",
			fmt.Sprintf("no search session for token %q", token))
	}
	e.metrics.resumes.WithLabelValues("ok").Inc()
	e.metrics.sessionsActive.Set(float64(e.sessions.len()))

	conn, err := e.pool.AcquireReadOnly(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)
	return e.page(ctx, conn, sess, token)
}

// page reads the session's next page and re-registers the session when
// objects remain.
func (e *Engine) page(ctx context.Context, conn *pool.Conn, sess *session, token string) (*Result, error) {
	pids, err := e.pagePIDs(ctx, conn, sess)
	if err != nil {
		return nil, err
	}
	objs, err := e.fields(ctx, conn, pids, sess.resultFields)
	if err != nil {
		return nil, err
	}

	res := &Result{Objects: objs, Cursor: sess.offset, CompleteListSize: sess.complete}
	sess.offset += int64(len(pids))
	if len(pids) > 0 && sess.offset < sess.complete {
		if token == "" {
			token = e.tokens.Generate()
		}
		sess.expires = e.clock.Now().Add(e.cfg.SessionTTL())
		e.sessions.put(token, sess)
		res.Token = token
		res.Expires = sess.expires
	}
	e.metrics.sessionsActive.Set(float64(e.sessions.len()))
	return res, nil
}

func (e *Engine) count(ctx context.Context, conn *pool.Conn, q query.Query) (int64, error) {
	stmt, args, err := e.compiler.Count(querysql.Select{
		From:     Table,
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    q.Conditions,
	})
	if err != nil {
		return 0, compileError(err)
	}
	var n int64
	if err := conn.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fserr.Storage("find objects", "", err)
	}
	return n, nil
}

func (e *Engine) pagePIDs(ctx context.Context, conn *pool.Conn, sess *session) ([]string, error) {
	stmt, args, err := e.compiler.Compile(querysql.Select{
		From:     Table,
		Columns:  []string{"pid"},
		Distinct: true,
		Where:    sess.query.Conditions,
		OrderBy:  []string{"pid"},
		Limit:    sess.pageSize,
		Offset:   int(sess.offset),
	})
	if err != nil {
		return nil, compileError(err)
	}
	rows, err := conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fserr.Storage("find objects", "", err)
	}
	defer rows.Close()

	var pids []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fserr.Storage("find objects", "", err)
		}
		pids = append(pids, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage("find objects", "", err)
	}
	return pids, nil
}

// fields loads resultFields for pids, keeping pid order.
func (e *Engine) fields(ctx context.Context, conn *pool.Conn, pids, resultFields []string) ([]ObjectFields, error) {
	objs := make([]ObjectFields, len(pids))
	byPID := make(map[string]*ObjectFields, len(pids))
	for i, pid := range pids {
		objs[i] = ObjectFields{PID: pid, Fields: make(map[string][]string)}
		byPID[pid] = &objs[i]
	}
	if len(pids) == 0 {
		return objs, nil
	}

	stmt := fmt.Sprintf("SELECT pid, field, value FROM %s WHERE pid IN (%s) AND field IN (%s) ORDER BY pid, field, seq",
		Table, e.dialect.List(1, len(pids)), e.dialect.List(len(pids)+1, len(resultFields)))
	args := make([]any, 0, len(pids)+len(resultFields))
	for _, p := range pids {
		args = append(args, p)
	}
	for _, f := range resultFields {
		args = append(args, f)
	}

	rows, err := conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fserr.Storage("find objects", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, field, value string
		if err := rows.Scan(&pid, &field, &value); err != nil {
			return nil, fserr.Storage("find objects", "", err)
		}
		if o, ok := byPID[pid]; ok {
			o.Fields[field] = append(o.Fields[field], value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fserr.Storage("find objects", "", err)
	}
	return objs, nil
}

func (e *Engine) pruneSessions() {
	if n := e.sessions.prune(e.clock.Now()); n > 0 {
		e.metrics.sessionsExpired.Add(float64(n))
		e.logger.Debug("expired search sessions", "count", n)
	}
}

func normalized(q query.Query) query.Query {
	out := query.Query{Conditions: make([]query.Condition, len(q.Conditions))}
	for i, c := range q.Conditions {
		c.Value = norm.NFC.String(c.Value)
		out.Conditions[i] = c
	}
	return out
}

func unrecognized(field string) error {
	return fserr.New(fserr.CodeUnrecognizedField, "find objects", fmt.Sprintf("unrecognized field %q", field))
}

func compileError(err error) error {
	if errors.Is(err, querysql.ErrUnknownProperty) {
		return &fserr.Error{Code: fserr.CodeUnrecognizedField, Op: "find objects", Err: err}
	}
	return fmt.Errorf("find objects: %w", err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := fserr.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// Stats counts the field rows and the distinct objects they belong to.
type Stats struct {
	Objects  int64 `json:"objects"`
	Rows     int64 `json:"rows"`
	Sessions int   `json:"sessions"`
}

// Stats reads the current row counts and the number of live sessions.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.pruneSessions()
	conn, err := e.pool.AcquireReadOnly(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer e.pool.Release(conn)

	st := Stats{Sessions: e.sessions.len()}
	row := conn.QueryRowContext(ctx, "SELECT COUNT(DISTINCT pid), COUNT(*) FROM "+Table)
	if err := row.Scan(&st.Objects, &st.Rows); err != nil {
		return Stats{}, fserr.Storage("stats", "", err)
	}
	return st, nil
}
