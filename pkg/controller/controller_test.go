package controller

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/failmon"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// fakeDialer hands out in-process worker clients whose behavior tests
// control per address
type fakeDialer struct {
	mu      sync.Mutex
	failed  map[string]bool
	masters map[string]MasterInterface
	pings   []CoordinationPingMessage
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failed:  make(map[string]bool),
		masters: make(map[string]MasterInterface),
	}
}

func (d *fakeDialer) setFailed(addr string, failed bool) {
	d.mu.Lock()
	d.failed[addr] = failed
	d.mu.Unlock()
}

func (d *fakeDialer) setMaster(addr string, mi MasterInterface) {
	d.mu.Lock()
	d.masters[addr] = mi
	d.mu.Unlock()
}

func (d *fakeDialer) isFailed(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed[addr]
}

func (d *fakeDialer) DialWorker(addr string) (WorkerClient, error) {
	return &fakeWorkerClient{d: d, addr: addr}, nil
}

type fakeWorkerClient struct {
	d    *fakeDialer
	addr string
}

func (c *fakeWorkerClient) RecruitMaster(ctx context.Context, req RecruitMasterRequest) (MasterInterface, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.failed[c.addr] {
		return MasterInterface{}, context.DeadlineExceeded
	}
	if mi, ok := c.d.masters[c.addr]; ok {
		return mi, nil
	}
	return MasterInterface{ID: "master-" + c.addr, Address: c.addr}, nil
}

// WaitFailure stays open while the worker is healthy (returning nil at
// the caller's deadline) and errors promptly once the worker fails
func (c *fakeWorkerClient) WaitFailure(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.d.isFailed(c.addr) {
				return ErrControllerStopped
			}
		}
	}
}

func (c *fakeWorkerClient) CoordinationPing(msg CoordinationPingMessage) {
	c.d.mu.Lock()
	c.d.pings = append(c.d.pings, msg)
	c.d.mu.Unlock()
}

func (c *fakeWorkerClient) Close() error { return nil }

func okStatusFetcher(ctx context.Context, workers []WorkerDetails, clientIssues, workerIssues map[string]string, incompatiblePeers []string) (StatusReply, error) {
	return StatusReply{Data: []byte(`{"healthy":true}`)}, nil
}

// testConfig shrinks every delay so tests run fast
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WorkerFailureTime = 20 * time.Millisecond
	cfg.WorkerCoordinationPingDelay = time.Hour
	cfg.ShutdownTimeout = 10 * time.Millisecond
	cfg.SimShutdownTimeout = 5 * time.Millisecond
	cfg.MasterSpinDelay = 5 * time.Millisecond
	cfg.MasterFailureReactionTime = 20 * time.Millisecond
	cfg.CheckBetterMasterInterval = 10 * time.Millisecond
	cfg.AttemptRecruitmentDelay = 5 * time.Millisecond
	cfg.WaitForGoodRecruitmentDelay = 0
	cfg.StatusMinTimeBetweenRequests = 50 * time.Millisecond
	cfg.RecruitmentTimeout = time.Second
	cfg.BroadcastTimeout = time.Second
	cfg.FailureDetector = failmon.Config{
		ClientRequestInterval: 10 * time.Millisecond,
		FailureMinDelay:       10 * time.Millisecond,
		FailureMaxDelay:       time.Hour,
		FailureTimeoutDelay:   time.Hour,
	}
	return cfg
}

// newTestController builds a controller over fakes. The returned
// controller is not Started; individual tests launch the loops they need.
func newTestController(t *testing.T, mutate func(*Config, *Dependencies)) (*ClusterController, *fakeDialer) {
	t.Helper()

	cfg := testConfig()
	dialer := newFakeDialer()
	deps := Dependencies{
		Dialer:        dialer,
		StatusFetcher: okStatusFetcher,
		Rand:          rand.New(rand.NewSource(1)),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	cc, err := New(cfg, "cc:0", deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(cc.Stop)
	return cc, dialer
}

// testWorker builds a worker interface with the conventional addresses
func testWorker(pid, zone, dc string) WorkerInterface {
	return WorkerInterface{
		ID:             pid + "-if1",
		Locality:       fitness.Locality{ProcessID: pid, ZoneID: zone, DCID: dc},
		Address:        pid + ":1",
		StorageAddress: pid + ":2",
	}
}

// register adds a worker with the given declared class
func register(t *testing.T, cc *ClusterController, w WorkerInterface, class fitness.ClassType) <-chan struct{} {
	t.Helper()
	return cc.RegisterWorker(RegisterWorkerRequest{
		Worker:       w,
		ProcessClass: fitness.ProcessClass{Type: class, Source: fitness.CommandLineSource},
		Generation:   1,
	})
}

// waitFor polls until cond is true or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
