package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFailmonMetrics() {
	r.FailmonClients = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txdb_cc_failmon_clients",
			Help: "Clients currently tracked by the failure detection server",
		},
	)

	r.FailmonVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txdb_cc_failmon_version",
			Help: "Current failure-information version",
		},
	)

	r.FailmonEvictionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_failmon_evictions_total",
			Help: "Clients declared failed by the adaptive timeout",
		},
	)
}
