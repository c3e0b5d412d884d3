// Package dispatch routes searches either to the identifier index or to
// the generic field search engine.
//
// The index answers one shape of query: a pid-only projection with a
// single identifier condition. Everything else, and every session
// resumption, goes to the engine untouched. Both paths return a
// fieldsearch.Result so callers cannot tell which one ran, except that an
// index result never carries a session token.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/fieldsearch"
	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/query"
)

// Route labels.
const (
	RouteIndex  = "index"
	RouteEngine = "engine"
	RouteResume = "resume"
)

// Searcher is the generic search engine.
type Searcher interface {
	FindObjects(ctx context.Context, resultFields []string, maxResults int, q query.Query) (*fieldsearch.Result, error)
	ResumeFindObjects(ctx context.Context, token string) (*fieldsearch.Result, error)
}

// Finder answers a single identifier condition.
type Finder interface {
	Find(ctx context.Context, cond query.Condition) ([]string, error)
}

// Options configure a Dispatcher.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Dispatcher is stateless apart from its fixed rule and route counter;
// it is safe for concurrent use.
type Dispatcher struct {
	index    Finder
	engine   Searcher
	contains bool
	logger   *slog.Logger
	routes   *prometheus.CounterVec
}

// New returns a dispatcher applying rule, one of config.FastPathEquals or
// config.FastPathEqualsOrContains. An empty rule means FastPathEquals.
func New(index Finder, engine Searcher, rule string, opts Options) (*Dispatcher, error) {
	var contains bool
	switch rule {
	case "", config.FastPathEquals:
	case config.FastPathEqualsOrContains:
		contains = true
	default:
		return nil, fserr.New(fserr.CodeConfiguration, "dispatch",
			fmt.Sprintf("unknown fast path rule %q", rule))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Dispatcher{
		index:    index,
		engine:   engine,
		contains: contains,
		logger:   logger,
		routes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_dispatch_routes_total",
			Help: "Searches dispatched, by route",
		}, []string{"route"}),
	}, nil
}

// FindObjects answers from the index when the query qualifies and from
// the engine otherwise.
func (d *Dispatcher) FindObjects(ctx context.Context, resultFields []string, maxResults int, q query.Query) (*fieldsearch.Result, error) {
	if !d.Indexable(resultFields, q) {
		d.routes.WithLabelValues(RouteEngine).Inc()
		return d.engine.FindObjects(ctx, resultFields, maxResults, q)
	}
	d.routes.WithLabelValues(RouteIndex).Inc()
	cond := q.Conditions[0]
	d.logger.Debug("identifier fast path", "operator", cond.Operator.Name(), "value", cond.Value)
	pids, err := d.index.Find(ctx, cond)
	if err != nil {
		return nil, err
	}
	return fieldsearch.PIDResult(pids), nil
}

// ResumeFindObjects always goes to the engine; index results have no
// session to resume.
func (d *Dispatcher) ResumeFindObjects(ctx context.Context, token string) (*fieldsearch.Result, error) {
	d.routes.WithLabelValues(RouteResume).Inc()
	return d.engine.ResumeFindObjects(ctx, token)
}

// Indexable reports whether the index can answer q projected onto
// resultFields.
func (d *Dispatcher) Indexable(resultFields []string, q query.Query) bool {
	if len(resultFields) != 1 || resultFields[0] != query.FieldPID {
		return false
	}
	if len(q.Conditions) != 1 {
		return false
	}
	c := q.Conditions[0]
	if c.Property != query.FieldIdentifier {
		return false
	}
	switch c.Operator {
	case query.Equals:
		return true
	case query.Contains:
		return d.contains && !c.HasWildcard()
	}
	return false
}
