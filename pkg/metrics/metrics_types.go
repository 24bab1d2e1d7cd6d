// Package metrics provides Prometheus metrics for the cluster controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metric instruments for one controller instance.
// A nil *Registry is safe to pass around; recording methods no-op.
type Registry struct {
	registry *prometheus.Registry

	// Worker registry
	WorkersRegistered   prometheus.Gauge
	WorkerRegistrations *prometheus.CounterVec
	WorkerRemovals      prometheus.Counter

	// Recruitment
	RecruitmentsTotal       *prometheus.CounterVec
	RecruitmentDuration     prometheus.Histogram
	OutstandingRecruitments *prometheus.GaugeVec

	// Master watchdog
	MasterRecruitments   prometheus.Counter
	MasterFailoversTotal *prometheus.CounterVec
	MasterLifetime       prometheus.Gauge

	// Failure detection
	FailmonClients        prometheus.Gauge
	FailmonVersion        prometheus.Gauge
	FailmonEvictionsTotal prometheus.Counter

	// DB info broadcast
	ServerInfoPublishes prometheus.Counter
	ClientInfoPublishes prometheus.Counter

	// Status batching
	StatusBatchesTotal  prometheus.Counter
	StatusBatchSize     prometheus.Histogram
	StatusFetchDuration prometheus.Histogram

	// Config watching
	ConfigReloadsTotal *prometheus.CounterVec
}

// NewRegistry creates a Registry with all instruments registered
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initWorkerMetrics()
	r.initRecruitmentMetrics()
	r.initFailmonMetrics()
	r.initBroadcastMetrics()
	return r
}

// Handler returns an HTTP handler serving the metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying gatherer for tests
func (r *Registry) Gather() prometheus.Gatherer {
	return r.registry
}
