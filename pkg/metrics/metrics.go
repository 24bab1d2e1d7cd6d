package metrics

import "time"

// RecordRecruitment records a recruitment attempt outcome. Safe on nil.
func (r *Registry) RecordRecruitment(role, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.RecruitmentsTotal.WithLabelValues(role, outcome).Inc()
	r.RecruitmentDuration.Observe(duration.Seconds())
}

// RecordMasterFailover records a master failover by cause. Safe on nil.
func (r *Registry) RecordMasterFailover(cause string) {
	if r == nil {
		return
	}
	r.MasterFailoversTotal.WithLabelValues(cause).Inc()
}

// SetWorkerCount updates the registered-worker gauge. Safe on nil.
func (r *Registry) SetWorkerCount(n int) {
	if r == nil {
		return
	}
	r.WorkersRegistered.Set(float64(n))
}

// RecordStatusBatch records one coalesced status fetch. Safe on nil.
func (r *Registry) RecordStatusBatch(size int, duration time.Duration) {
	if r == nil {
		return
	}
	r.StatusBatchesTotal.Inc()
	r.StatusBatchSize.Observe(float64(size))
	r.StatusFetchDuration.Observe(duration.Seconds())
}

// SetFailmonState updates the failure-detector gauges. Safe on nil.
func (r *Registry) SetFailmonState(clients int, version uint64) {
	if r == nil {
		return
	}
	r.FailmonClients.Set(float64(clients))
	r.FailmonVersion.Set(float64(version))
}
