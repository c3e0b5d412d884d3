package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/ddl"
	"github.com/roach88/fsidx/internal/dispatch"
	"github.com/roach88/fsidx/internal/fieldsearch"
	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/idindex"
	"github.com/roach88/fsidx/internal/objstore"
	"github.com/roach88/fsidx/internal/pool"
	"github.com/roach88/fsidx/internal/query"
)

// Options configure a Module.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registry collects every component's metrics. Defaults to a new
	// registry, available from Module.Registry.
	Registry *prometheus.Registry

	// Store replaces the directory store configured in Objects.Dir.
	Store objstore.Store

	// Clock and Tokens are passed to the field search engine.
	Clock  fieldsearch.Clock
	Tokens fieldsearch.TokenGenerator
}

// Module owns the pool and the components built on it.
type Module struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	pool       *pool.Pool
	store      objstore.Store
	index      *idindex.Index
	engine     *fieldsearch.Engine
	dispatcher *dispatch.Dispatcher
}

// New builds a Module from cfg, which must already have defaults
// applied, and creates any missing tables.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Module, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	store := opts.Store
	if store == nil {
		if cfg.Objects.Dir == "" {
			return nil, fserr.New(fserr.CodeConfiguration, "new module", "objects.dir is required")
		}
		dir, err := objstore.NewDirStore(cfg.Objects.Dir)
		if err != nil {
			return nil, &fserr.Error{Code: fserr.CodeConfiguration, Op: "new module", Err: err}
		}
		store = dir
	}

	conv, err := ddl.ConverterFor(cfg.Pool.Driver)
	if err != nil {
		return nil, &fserr.Error{Code: fserr.CodeConfiguration, Op: "new module", Err: err}
	}
	p, err := pool.New(ctx, cfg.Pool, pool.Options{
		Logger:     logger.With("component", "pool"),
		Registerer: reg,
		DDL:        conv,
	})
	if err != nil {
		return nil, err
	}

	m := &Module{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		pool:     p,
		store:    store,
		index: idindex.New(p, store, idindex.Options{
			Logger:     logger.With("component", "idindex"),
			Registerer: reg,
		}),
		engine: fieldsearch.New(p, store, cfg.Search, fieldsearch.Options{
			Logger:     logger.With("component", "fieldsearch"),
			Registerer: reg,
			Clock:      opts.Clock,
			Tokens:     opts.Tokens,
		}),
	}
	m.dispatcher, err = dispatch.New(m.index, m.engine, cfg.Search.FastPathRule, dispatch.Options{
		Logger:     logger.With("component", "dispatch"),
		Registerer: reg,
	})
	if err == nil {
		err = m.ensureSchema(ctx)
	}
	if err != nil {
		_, _ = p.Shutdown(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Module) ensureSchema(ctx context.Context) error {
	if err := m.engine.EnsureSchema(ctx); err != nil {
		return err
	}
	return m.index.EnsureSchema(ctx)
}

// Update reindexes pid from the object store.
func (m *Module) Update(ctx context.Context, pid string) error {
	if err := m.engine.Update(ctx, pid); err != nil {
		return err
	}
	return m.index.Resync(ctx, pid)
}

// Delete removes pid from both indexes. See the package documentation
// for how this relates to the canonical delete.
func (m *Module) Delete(ctx context.Context, pid string) error {
	idxErr := m.index.Delete(ctx, pid)
	if idxErr != nil {
		m.logger.Warn("identifier index delete failed; continuing", "pid", pid, "error", idxErr)
	}
	_, engErr := m.engine.Delete(ctx, pid)
	if engErr != nil {
		engErr = fmt.Errorf("delete %s: %w", pid, engErr)
	}
	return errors.Join(idxErr, engErr)
}

// FindObjects dispatches a search.
func (m *Module) FindObjects(ctx context.Context, resultFields []string, maxResults int, q query.Query) (*fieldsearch.Result, error) {
	return m.dispatcher.FindObjects(ctx, resultFields, maxResults, q)
}

// ResumeFindObjects returns the next page of a paged search.
func (m *Module) ResumeFindObjects(ctx context.Context, token string) (*fieldsearch.Result, error) {
	return m.dispatcher.ResumeFindObjects(ctx, token)
}

// LookupIdentifier returns the pids declaring identifier value.
func (m *Module) LookupIdentifier(ctx context.Context, value string) ([]string, error) {
	return m.index.Lookup(ctx, value)
}

// Store returns the canonical object store.
func (m *Module) Store() objstore.Store { return m.store }

// Pool returns the connection pool.
func (m *Module) Pool() *pool.Pool { return m.pool }

// Registry returns the registry holding every component's metrics.
func (m *Module) Registry() *prometheus.Registry { return m.registry }

// Config returns the configuration the module was built from.
func (m *Module) Config() *config.Config { return m.cfg }

// Shutdown closes the pool.
func (m *Module) Shutdown(ctx context.Context) (pool.ShutdownOutcome, error) {
	return m.pool.Shutdown(ctx)
}

// Stats summarizes the module's storage.
type Stats struct {
	Pool        pool.Stats        `json:"pool"`
	Identifiers idindex.Stats     `json:"identifiers"`
	Fields      fieldsearch.Stats `json:"fields"`
}

// Stats reads pool accounting and table row counts.
func (m *Module) Stats(ctx context.Context) (Stats, error) {
	ids, err := m.index.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	fields, err := m.engine.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pool: m.pool.Stats(), Identifiers: ids, Fields: fields}, nil
}
