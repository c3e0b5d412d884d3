package fieldsearch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	updates         *prometheus.CounterVec
	searches        prometheus.Counter
	resumes         *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionsExpired prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_search_updates_total",
			Help: "Field search row updates, by operation and outcome",
		}, []string{"op", "outcome"}),
		searches: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_search_queries_total",
			Help: "Searches executed by the field search engine",
		}),
		resumes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fsidx_search_resumes_total",
			Help: "Session resumptions, by outcome",
		}, []string{"outcome"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "fsidx_search_sessions_active",
			Help: "Paged search sessions awaiting resumption",
		}),
		sessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "fsidx_search_sessions_expired_total",
			Help: "Sessions dropped after their expiry",
		}),
	}
}
