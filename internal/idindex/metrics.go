package idindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	resyncs        *prometheus.CounterVec
	rowsWritten    prometheus.Counter
	deleteFailures prometheus.Counter
	lookups        *prometheus.CounterVec
	lookupDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_index_resyncs_total",
			Help: "Identifier resyncs, by outcome",
		}, []string{"outcome"}),
		rowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_index_rows_written_total",
			Help: "Identifier rows inserted by committed resyncs",
		}),
		deleteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_index_delete_failures_total",
			Help: "Index deletes that failed; the generic delete still proceeded",
		}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_index_lookups_total",
			Help: "Identifier lookups, by operator",
		}, []string{"operator"}),
		lookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fsidx_index_lookup_duration_seconds",
			Help:    "Time spent executing identifier lookups",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}
