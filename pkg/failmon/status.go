package failmon

import "time"

// Status is the liveness verdict for a network address
type Status struct {
	Failed bool `json:"failed"`
}

// SystemStatus is one status-change record in the version history
type SystemStatus struct {
	Address string `json:"address"`
	Status  Status `json:"status"`
}

// statusInfo tracks one client's reported status and request cadence
type statusInfo struct {
	status                 Status
	lastRequestTime        time.Time
	penultimateRequestTime time.Time
}

func (s *statusInfo) insertRequest(now time.Time) {
	s.penultimateRequestTime = s.lastRequestTime
	s.lastRequestTime = now
}

// latency is the larger of time-since-last-request and the last observed
// inter-request gap; it over-estimates rather than under-estimates a
// client's cadence.
func (s *statusInfo) latency(now time.Time) time.Duration {
	sinceLast := now.Sub(s.lastRequestTime)
	gap := s.lastRequestTime.Sub(s.penultimateRequestTime)
	if sinceLast > gap {
		return sinceLast
	}
	return gap
}

// Request is a failure-monitoring ping from a client
type Request struct {
	// Version is the failure-information version the client has seen
	Version uint64 `json:"version"`
	// SenderAddress identifies the pinging client
	SenderAddress string `json:"sender_address"`
	// SenderStatus optionally reports the client's own status
	SenderStatus *Status `json:"sender_status,omitempty"`
}

// Reply carries the delta of status changes since the requested version
type Reply struct {
	Version                       uint64         `json:"version"`
	ClientRequestIntervalMs       int64          `json:"client_request_interval_ms"`
	ConsiderServerFailedTimeoutMs int64          `json:"consider_server_failed_timeout_ms"`
	AllOthersFailed               bool           `json:"all_others_failed"`
	Changes                       []SystemStatus `json:"changes,omitempty"`
}
