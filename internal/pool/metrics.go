package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	acquisitions       *prometheus.CounterVec
	exhausted          prometheus.Counter
	modeSwitchFailures prometheus.Counter
	validationFailures prometheus.Counter
	active             prometheus.Gauge
	acquireWait        prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_pool_acquisitions_total",
			Help: "Connections handed out, by requested mode",
		}, []string{"mode"}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_pool_exhausted_total",
			Help: "Acquisitions refused by the overflow policy",
		}),
		modeSwitchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_pool_mode_switch_failures_total",
			Help: "Read-only flag changes the backend rejected",
		}),
		validationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_pool_validation_failures_total",
			Help: "Connections discarded after failing validation",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "fsidx_pool_active_connections",
			Help: "Connections currently checked out",
		}),
		acquireWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fsidx_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for pool capacity",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}),
	}
}

func modeLabel(readOnly bool) string {
	if readOnly {
		return "read_only"
	}
	return "read_write"
}
