package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/ddl"
	"github.com/roach88/fsidx/internal/fserr"
)

var errPoolClosed = errors.New("pool is closed")

// Options configure a Pool beyond its PoolConfig.
type Options struct {
	// Logger receives pool diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the pool metrics. Defaults to a private registry.
	Registerer prometheus.Registerer

	// DDL enables AcquireDDL. A pool without a converter cannot create
	// tables.
	DDL ddl.Converter

	// Backend overrides the backend chosen from the configured driver.
	Backend *Backend

	// ShutdownMatcher overrides the backend's shutdown success matcher.
	ShutdownMatcher ShutdownMatcher
}

// Pool hands out database connections configured for a requested access
// mode.
//
// Capacity is accounted with a weighted semaphore sized to MaxActive:
// the fail policy uses TryAcquire, the block policy waits up to MaxWait,
// and the grow policy has no semaphore at all. Acquire and Release are
// safe for concurrent use; operations on a checked-out Conn are not
// synchronized by the pool.
//
// A Pool is created once by the composition root and closed once with
// Shutdown.
type Pool struct {
	db       *sql.DB
	cfg      config.PoolConfig
	dsn      string
	backend  *Backend
	ddl      ddl.Converter
	logger   *slog.Logger
	metrics  *metrics
	matcher  ShutdownMatcher
	readOnly bool // backend accepts read-only switching

	sem     *semaphore.Weighted
	maxWait time.Duration
	active  atomic.Int64
	closed  atomic.Bool

	stopEvictor context.CancelFunc
	evictorDone chan struct{}
}

// New opens a pool for cfg. Defaults must already be applied to cfg.
//
// The database is pinged before New returns, MinIdle connections are
// opened eagerly, and the idle evictor starts when TestWhileIdle is set
// with a positive TimeBetweenEvictionRuns.
func New(ctx context.Context, cfg config.PoolConfig, opts Options) (*Pool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	backend := opts.Backend
	if backend == nil {
		b, err := BackendFor(cfg.Driver)
		if err != nil {
			return nil, &fserr.Error{Code: fserr.CodeConfiguration, Op: "new pool", Err: err}
		}
		backend = b
	}
	dsn, err := backend.DSN(cfg)
	if err != nil {
		return nil, &fserr.Error{Code: fserr.CodeConfiguration, Op: "new pool", Err: err}
	}

	db, err := sql.Open(backend.Driver, dsn)
	if err != nil {
		return nil, fserr.Connectivity("new pool", fmt.Errorf("open database: %w", err))
	}

	p := &Pool{
		db:       db,
		cfg:      cfg,
		dsn:      dsn,
		backend:  backend,
		ddl:      opts.DDL,
		logger:   logger,
		metrics:  newMetrics(reg),
		matcher:  backend.ShutdownConfirmed,
		readOnly: cfg.ReadOnlySupported(logger),
		maxWait:  cfg.MaxWait.Duration,
	}
	if opts.ShutdownMatcher != nil {
		p.matcher = opts.ShutdownMatcher
	}

	if cfg.WhenExhausted == config.WhenExhaustedGrow {
		db.SetMaxOpenConns(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxActive)
		p.sem = semaphore.NewWeighted(int64(cfg.MaxActive))
	}
	db.SetMaxIdleConns(cfg.MaxIdle)
	if cfg.MinEvictableIdle.Duration > 0 {
		db.SetConnMaxIdleTime(cfg.MinEvictableIdle.Duration)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fserr.Connectivity("new pool", fmt.Errorf("connect to database: %w", err))
	}
	if err := p.prewarm(ctx); err != nil {
		db.Close()
		return nil, fserr.Connectivity("new pool", fmt.Errorf("open idle connections: %w", err))
	}
	p.startEvictor()

	logger.Info("connection pool ready", "pool", p.String(), "policy", cfg.WhenExhausted,
		"supports_read_only", p.readOnly)
	return p, nil
}

// AcquireReadOnly returns a connection in read-only mode.
func (p *Pool) AcquireReadOnly(ctx context.Context) (*Conn, error) {
	return p.acquire(ctx, true)
}

// AcquireReadWrite returns a connection in read-write mode. Use it only
// when updates are performed.
func (p *Pool) AcquireReadWrite(ctx context.Context) (*Conn, error) {
	return p.acquire(ctx, false)
}

func (p *Pool) acquire(ctx context.Context, readOnly bool) (*Conn, error) {
	op := "acquire " + modeLabel(readOnly)
	if p.closed.Load() {
		return nil, fserr.Connectivity(op, errPoolClosed)
	}
	if err := p.reserve(ctx, op); err != nil {
		return nil, err
	}

	raw, err := p.borrow(ctx)
	if err != nil {
		p.unreserve()
		return nil, fserr.Connectivity(op, err)
	}
	p.applyMode(ctx, raw, readOnly)

	c := &Conn{id: uuid.NewString(), raw: raw, pool: p, readOnly: readOnly}
	p.active.Add(1)
	p.metrics.active.Inc()
	p.metrics.acquisitions.WithLabelValues(modeLabel(readOnly)).Inc()
	p.logger.Debug("got connection from pool", "conn", c.id, "read_only", readOnly, "pool", p.String())
	return c, nil
}

// reserve takes one unit of capacity according to the overflow policy.
func (p *Pool) reserve(ctx context.Context, op string) error {
	if p.sem == nil {
		return nil
	}
	if p.cfg.WhenExhausted == config.WhenExhaustedFail {
		if p.sem.TryAcquire(1) {
			return nil
		}
		p.metrics.exhausted.Inc()
		return fserr.PoolExhausted(op, fmt.Sprintf("all %d connections are in use", p.cfg.MaxActive))
	}

	start := time.Now()
	waitCtx := ctx
	if p.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.maxWait)
		defer cancel()
	}
	err := p.sem.Acquire(waitCtx, 1)
	p.metrics.acquireWait.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	p.metrics.exhausted.Inc()
	return fserr.PoolExhausted(op, fmt.Sprintf("timed out after %s waiting for one of %d connections",
		p.maxWait, p.cfg.MaxActive))
}

func (p *Pool) unreserve() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

// borrow takes a physical connection, validating it when TestOnBorrow is
// set. A connection that fails validation is discarded and one more is
// tried.
func (p *Pool) borrow(ctx context.Context) (*sql.Conn, error) {
	for attempt := 0; ; attempt++ {
		raw, err := p.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		if !p.cfg.TestOnBorrow {
			return raw, nil
		}
		verr := p.validate(ctx, raw)
		if verr == nil {
			return raw, nil
		}
		p.metrics.validationFailures.Inc()
		p.logger.Warn("discarding connection that failed validation", "error", verr)
		discard(raw)
		if attempt >= 1 {
			return nil, fmt.Errorf("validate connection: %w", verr)
		}
	}
}

// applyMode sets the session read-only flag when it differs from the
// requested mode. Failures are logged and the connection is used as is.
func (p *Pool) applyMode(ctx context.Context, raw *sql.Conn, readOnly bool) {
	if !p.readOnly || p.backend.Modes == nil {
		return
	}
	current, err := p.backend.Modes.ReadOnly(ctx, raw)
	if err == nil && current == readOnly {
		return
	}
	if err == nil {
		err = p.backend.Modes.SetReadOnly(ctx, raw, readOnly)
	}
	if err != nil {
		p.metrics.modeSwitchFailures.Inc()
		p.logger.Warn("failed to change connection read-only flag; continuing with the connection as is "+
			"(set pool.supportsReadOnly to false if the database does not support read-only mode)",
			"read_only", readOnly, "error", err)
	}
}

// validate runs the validation query, or a ping when none is configured.
func (p *Pool) validate(ctx context.Context, raw *sql.Conn) error {
	if p.cfg.ValidationQuery == "" {
		return raw.PingContext(ctx)
	}
	rows, err := raw.QueryContext(ctx, p.cfg.ValidationQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	// Runtime failures surface on the first step.
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("validation query returned no rows")
	}
	return rows.Err()
}

// discard closes the physical connection instead of returning it to the
// idle set.
func discard(raw *sql.Conn) {
	_ = raw.Raw(func(any) error { return driver.ErrBadConn })
	_ = raw.Close()
}

// Release returns c to the pool. Releasing an already released connection
// is a no-op, so Release is safe on every exit path, including error
// cleanup. Any transaction on c must be finished first.
//
// A failure closing the connection is logged, not returned.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	if c.pool != p {
		c.pool.Release(c)
		return
	}
	if !c.closed.CompareAndSwap(false, true) {
		p.logger.Debug("ignoring attempt to close a previously closed connection", "conn", c.id)
		return
	}

	returned := false
	if p.cfg.TestOnReturn {
		if err := p.validate(context.Background(), c.raw); err != nil {
			p.metrics.validationFailures.Inc()
			p.logger.Warn("discarding returned connection that failed validation", "conn", c.id, "error", err)
			discard(c.raw)
			returned = true
		}
	}
	if !returned {
		if err := c.raw.Close(); err != nil {
			p.logger.Warn("unable to close connection", "conn", c.id, "error", err)
		}
	}

	p.active.Add(-1)
	p.metrics.active.Dec()
	p.unreserve()
	p.logger.Debug("returned connection to pool", "conn", c.id, "pool", p.String())
}

// Stats is a snapshot of pool accounting.
type Stats struct {
	Active           int    `json:"active"`
	Idle             int    `json:"idle"`
	Open             int    `json:"open"`
	MaxActive        int    `json:"max_active"`
	Policy           string `json:"policy"`
	SupportsReadOnly bool   `json:"supports_read_only"`
	DDL              bool   `json:"ddl"`
}

// Stats returns current pool accounting.
func (p *Pool) Stats() Stats {
	st := p.db.Stats()
	return Stats{
		Active:           int(p.active.Load()),
		Idle:             st.Idle,
		Open:             st.OpenConnections,
		MaxActive:        p.maxActive(),
		Policy:           p.cfg.WhenExhausted,
		SupportsReadOnly: p.readOnly,
		DDL:              p.ddl != nil,
	}
}

func (p *Pool) maxActive() int {
	if p.sem == nil {
		return -1
	}
	return p.cfg.MaxActive
}

// Driver returns the database/sql driver name.
func (p *Pool) Driver() string { return p.backend.Driver }

// String describes the pool without credentials.
func (p *Pool) String() string {
	st := p.db.Stats()
	return fmt.Sprintf("%s@%s, numIdle=%d, numActive=%d, maxActive=%d",
		p.cfg.Username, redactURL(p.cfg.URL), st.Idle, p.active.Load(), p.maxActive())
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	return u.Redacted()
}

// prewarm opens MinIdle connections concurrently and returns them to the
// idle set.
func (p *Pool) prewarm(ctx context.Context) error {
	if p.cfg.MinIdle <= 0 {
		return nil
	}
	conns := make([]*sql.Conn, p.cfg.MinIdle)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			c, err := p.db.Conn(gctx)
			if err != nil {
				return err
			}
			conns[i] = c
			return c.PingContext(gctx)
		})
	}
	err := g.Wait()
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
	return err
}
