package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRecruitmentMetrics() {
	r.RecruitmentsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txdb_cc_recruitments_total",
			Help: "Recruitment attempts by role and outcome",
		},
		[]string{"role", "outcome"}, // outcome: ok, no_more_servers, not_good_enough
	)

	r.RecruitmentDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txdb_cc_recruitment_duration_seconds",
			Help:    "Duration of findWorkersForConfiguration placements",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		},
	)

	r.OutstandingRecruitments = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txdb_cc_outstanding_recruitments",
			Help: "Recruitment requests queued until the worker population changes",
		},
		[]string{"kind"}, // configuration, storage
	)

	r.MasterRecruitments = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "txdb_cc_master_recruitments_total",
			Help: "Successful master recruitments",
		},
	)

	r.MasterFailoversTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "txdb_cc_master_failovers_total",
			Help: "Master failovers by cause",
		},
		[]string{"cause"}, // failure_detected, better_master, forced
	)

	r.MasterLifetime = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "txdb_cc_master_lifetime",
			Help: "Monotone counter identifying the current master incarnation",
		},
	)
}
