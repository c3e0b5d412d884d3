package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ShutdownOutcome is the recognized result of Pool.Shutdown.
type ShutdownOutcome int

const (
	// ShutdownClosed means the pool closed and no embedded protocol ran.
	ShutdownClosed ShutdownOutcome = iota

	// ShutdownCompleted means the embedded protocol returned no error.
	ShutdownCompleted

	// ShutdownConfirmed means the embedded protocol returned an error the
	// shutdown matcher recognizes as its success signal.
	ShutdownConfirmed

	// ShutdownAbnormal means the embedded protocol failed.
	ShutdownAbnormal
)

func (o ShutdownOutcome) String() string {
	switch o {
	case ShutdownClosed:
		return "closed"
	case ShutdownCompleted:
		return "completed"
	case ShutdownConfirmed:
		return "confirmed"
	case ShutdownAbnormal:
		return "abnormal"
	default:
		return fmt.Sprintf("ShutdownOutcome(%d)", int(o))
	}
}

// MatchError returns a ShutdownMatcher recognizing any error in err's
// chain that is one of targets.
func MatchError(targets ...error) ShutdownMatcher {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// Shutdown closes the pool and, for an embedded backend, runs the
// backend's shutdown protocol.
//
// Only an abnormal embedded shutdown is logged as an error; a confirmed
// shutdown (an error the matcher recognizes) is a success. The returned
// error is non-nil when closing the pool failed or the shutdown was
// abnormal. Calling Shutdown again is a no-op.
func (p *Pool) Shutdown(ctx context.Context) (ShutdownOutcome, error) {
	if !p.closed.CompareAndSwap(false, true) {
		return ShutdownClosed, nil
	}
	p.haltEvictor()

	desc := p.String()
	var errs []error
	if err := p.db.Close(); err != nil {
		p.logger.Warn("unable to close pool", "error", err)
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}

	outcome := ShutdownClosed
	if p.backend.Embedded && p.backend.Shutdown != nil {
		p.logger.Info("shutting down embedded database", "driver", p.backend.Driver)
		err := p.backend.Shutdown(ctx, p.dsn)
		switch {
		case err == nil:
			outcome = ShutdownCompleted
		case p.matcher != nil && p.matcher(err):
			outcome = ShutdownConfirmed
			p.logger.Debug("embedded database confirmed shutdown", "signal", err)
		default:
			outcome = ShutdownAbnormal
			p.logger.Error("embedded database did not shut down normally", "error", err)
			errs = append(errs, fmt.Errorf("embedded shutdown: %w", err))
		}
	}

	p.logger.Debug("closed pool", "pool", desc, "outcome", outcome.String())
	return outcome, errors.Join(errs...)
}

// startEvictor launches the idle validation loop when configured.
func (p *Pool) startEvictor() {
	interval := p.cfg.TimeBetweenEvictionRuns.Duration
	if !p.cfg.TestWhileIdle || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.stopEvictor = cancel
	p.evictorDone = make(chan struct{})

	go func() {
		defer close(p.evictorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.evictIdle(ctx); n > 0 {
					p.logger.Info("evicted idle connections that failed validation", "count", n)
				}
			}
		}
	}()
}

func (p *Pool) haltEvictor() {
	if p.stopEvictor == nil {
		return
	}
	p.stopEvictor()
	<-p.evictorDone
}

// evictIdle validates up to NumTestsPerEvictionRun idle connections (all
// idle connections when unset) and discards the ones that fail. It returns
// the number discarded.
func (p *Pool) evictIdle(ctx context.Context) int {
	n := p.db.Stats().Idle
	if limit := p.cfg.NumTestsPerEvictionRun; limit > 0 && limit < n {
		n = limit
	}

	type result struct {
		conn *sql.Conn
		err  error
	}
	var checked []result
	for i := 0; i < n; i++ {
		raw, err := p.db.Conn(ctx)
		if err != nil {
			break
		}
		checked = append(checked, result{conn: raw, err: p.validate(ctx, raw)})
	}

	discarded := 0
	for _, r := range checked {
		if r.err != nil {
			p.metrics.validationFailures.Inc()
			discard(r.conn)
			discarded++
			continue
		}
		r.conn.Close()
	}
	return discarded
}
