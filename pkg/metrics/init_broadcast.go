package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBroadcastMetrics() {
	r.ServerInfoPublishes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_server_info_publishes_total",
			Help: "ServerDBInfo publications with a fresh version id",
		},
	)

	r.ClientInfoPublishes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_client_info_publishes_total",
			Help: "ClientDBInfo publications with a fresh version id",
		},
	)

	r.StatusBatchesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_status_batches_total",
			Help: "Status fetches executed on behalf of a batch of requests",
		},
	)

	r.StatusBatchSize = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txdb_cc_status_batch_size",
			Help:    "Requests coalesced into one status fetch",
			Buckets: []float64{1, 2, 5, 10, 25, 50},
		},
	)

	r.StatusFetchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txdb_cc_status_fetch_duration_seconds",
			Help:    "Duration of external status fetches",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.ConfigReloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txdb_cc_config_reloads_total",
			Help: "Coordination-KV config reloads by kind",
		},
		[]string{"kind"}, // process_class, client_txn_info
	)
}
