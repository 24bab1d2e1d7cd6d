package controller

import "errors"

// Recruitment errors
var (
	// ErrNoMoreServers means recruitment cannot satisfy the request with
	// the current population. Recoverable; requests queue for retry.
	ErrNoMoreServers = errors.New("no more servers available for recruitment")
	// ErrOperationFailed means recruitment produced a placement below the
	// expected fitness during the startup grace window
	ErrOperationFailed = errors.New("recruitment below expected fitness")
	// ErrRecruitmentFailed means a downstream sub-recruitment is missing
	// after construction
	ErrRecruitmentFailed = errors.New("recruitment failed")
	// ErrTimedOut means an outstanding storage request exceeded its
	// recruitment timeout
	ErrTimedOut = errors.New("recruitment timed out")
)

// Registration errors
var (
	ErrMasterRegistrationStale = errors.New("master registration from a stale master")
)

// Controller lifecycle errors
var (
	ErrControllerStopped = errors.New("cluster controller stopped")
)
