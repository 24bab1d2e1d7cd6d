package failmon

import (
	"errors"
	"sync"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/logging"
	"github.com/dd0wney/cluso-txdb/pkg/metrics"
)

var (
	// ErrFutureVersion means a client asked for a version beyond current.
	// The shipped client cannot produce this; it indicates a bug.
	ErrFutureVersion = errors.New("failure information version is in the future")
	// ErrSelfReportedFailure means a client claimed its own status is
	// failed, which is impossible by construction
	ErrSelfReportedFailure = errors.New("client reported itself failed")
)

// Config holds the failure detector tunables
type Config struct {
	// ClientRequestInterval is the expected ping cadence
	ClientRequestInterval time.Duration
	// FailureMinDelay is the floor added to the adaptive threshold
	FailureMinDelay time.Duration
	// FailureMaxDelay declares any client failed regardless of the
	// adaptive threshold
	FailureMaxDelay time.Duration
	// FailureTimeoutDelay is advertised to clients as the time after
	// which they should consider this server failed
	FailureTimeoutDelay time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		ClientRequestInterval: time.Second,
		FailureMinDelay:       time.Second,
		FailureMaxDelay:       60 * time.Second,
		FailureTimeoutDelay:   60 * time.Second,
	}
}

// Server maintains the versioned liveness map and answers monitoring pings
type Server struct {
	cfg          Config
	localAddress string
	logger       logging.Logger
	metrics      *metrics.Registry
	now          func() time.Time

	mu       sync.Mutex
	version  uint64
	current  map[string]*statusInfo
	history  []SystemStatus // last change is from version-1 to version
	changed  chan struct{}
	lastTick time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewServer creates a failure detection server. localAddress is this
// controller's own address, which is never evicted. clock may be nil, in
// which case wall time is used.
func NewServer(cfg Config, localAddress string, logger logging.Logger, reg *metrics.Registry, clock func() time.Time) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Server{
		cfg:          cfg,
		localAddress: localAddress,
		logger:       logger.With(logging.Component("failmon")),
		metrics:      reg,
		now:          clock,
		current:      make(map[string]*statusInfo),
		changed:      make(chan struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the periodic eviction task
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ClientRequestInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop terminates the periodic task
func (s *Server) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// HandleRequest processes one monitoring ping and returns the delta reply
func (s *Server) HandleRequest(req Request) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SenderStatus != nil {
		if req.SenderStatus.Failed {
			return Reply{}, ErrSelfReportedFailure
		}

		stat, ok := s.current[req.SenderAddress]
		if !ok {
			stat = &statusInfo{}
			s.current[req.SenderAddress] = stat
		}
		stat.insertRequest(s.now())

		if *req.SenderStatus != stat.status || !ok {
			s.logger.Debug("status changed by request",
				logging.Address(req.SenderAddress),
				logging.Bool("failed", req.SenderStatus.Failed))
			s.pushChangeLocked(SystemStatus{Address: req.SenderAddress, Status: *req.SenderStatus})
			stat.status = *req.SenderStatus
		}
	}

	if req.Version > s.version {
		return Reply{}, ErrFutureVersion
	}

	reply := Reply{
		Version:                       s.version,
		ClientRequestIntervalMs:       s.cfg.ClientRequestInterval.Milliseconds(),
		ConsiderServerFailedTimeoutMs: s.cfg.FailureTimeoutDelay.Milliseconds(),
	}

	if req.Version == 0 || req.Version < s.version-uint64(len(s.history)) {
		// Too far behind for a delta; send the whole map
		reply.AllOthersFailed = true
		for addr, stat := range s.current {
			reply.Changes = append(reply.Changes, SystemStatus{Address: addr, Status: stat.status})
		}
	} else {
		from := int(req.Version) - int(s.version) + len(s.history)
		reply.Changes = append(reply.Changes, s.history[from:]...)
	}

	return reply, nil
}

// Tick runs one round of adaptive failure detection. Exposed so tests can
// drive it with a manual clock; Start calls it on the request interval.
func (s *Server) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	if !s.lastTick.IsZero() && t.Sub(s.lastTick) > time.Second+s.cfg.ClientRequestInterval {
		s.logger.Warn("long delay between failure detection rounds",
			logging.Duration("gap", t.Sub(s.lastTick)))
	}
	s.lastTick = t

	// Adapt to global unresponsiveness: the threshold tracks the
	// second-slowest client so a cluster-wide stall doesn't fail everyone.
	var delays []time.Duration
	for _, stat := range s.current {
		if !stat.penultimateRequestTime.IsZero() {
			delays = append(delays, stat.latency(t))
		}
	}
	pivot := pivotDelay(delays, s.cfg.ClientRequestInterval)

	threshold := pivot*2 + s.cfg.ClientRequestInterval + s.cfg.FailureMinDelay
	for addr, stat := range s.current {
		if addr == s.localAddress {
			continue
		}
		delay := t.Sub(stat.lastRequestTime)
		if delay > threshold || delay > s.cfg.FailureMaxDelay {
			s.logger.Info("declaring client failed",
				logging.Address(addr),
				logging.Duration("last_request_age", delay),
				logging.Duration("pivot_delay", pivot))
			s.pushChangeLocked(SystemStatus{Address: addr, Status: Status{Failed: true}})
			delete(s.current, addr)
			s.trimHistoryLocked()
			if s.metrics != nil {
				s.metrics.FailmonEvictionsTotal.Inc()
			}
		}
	}

	s.metrics.SetFailmonState(len(s.current), s.version)
}

// pushChangeLocked appends a change record and bumps the version in the
// same critical section, so replies never observe a partial update.
func (s *Server) pushChangeLocked(change SystemStatus) {
	s.history = append(s.history, change)
	s.version++
	s.trimHistoryLocked()

	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) trimHistoryLocked() {
	for len(s.history) > len(s.current) {
		s.history = s.history[1:]
	}
}

// Version returns the current failure-information version
func (s *Server) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// IsAvailable reports whether an address is currently considered up.
// Addresses the detector has never heard from are optimistically available.
func (s *Server) IsAvailable(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stat, ok := s.current[addr]
	if !ok {
		// An evicted address stays failed until it pings again
		for i := len(s.history) - 1; i >= 0; i-- {
			if s.history[i].Address == addr {
				return !s.history[i].Status.Failed
			}
		}
		return true
	}
	return !stat.status.Failed
}

// StateChanged returns a channel closed on the next status change.
// Availability watchers use it to re-evaluate their worker.
func (s *Server) StateChanged() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func pivotDelay(delays []time.Duration, interval time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	pivot := len(delays) - 2
	if pivot < 0 {
		pivot = 0
	}
	// nth element by full sort; client counts are small
	sortDurations(delays)
	d := delays[pivot] - interval
	if d < 0 {
		return 0
	}
	return d
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j] < d[j-1]; j-- {
			d[j], d[j-1] = d[j-1], d[j]
		}
	}
}
