package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initWorkerMetrics() {
	r.WorkersRegistered = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txdb_cc_workers_registered",
			Help: "Number of workers currently registered with the cluster controller",
		},
	)

	r.WorkerRegistrations = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txdb_cc_worker_registrations_total",
			Help: "Worker registration requests by disposition",
		},
		[]string{"disposition"}, // new, replaced, stale
	)

	r.WorkerRemovals = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_worker_removals_total",
			Help: "Workers removed after their failure watcher fired",
		},
	)
}
