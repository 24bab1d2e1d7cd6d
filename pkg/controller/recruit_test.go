package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

func acrossZones(n int) []AcrossSpec {
	return []AcrossSpec{{Count: n, Key: fitness.KeyZoneID}}
}

// TestTrivialRecruit tests the basic single-DC placement: a 3-zone tlog
// team plus one proxy and one resolver, with a slot reserved for the
// master
func TestTrivialRecruit(t *testing.T) {
	cc, _ := newTestController(t, nil)

	for i := 1; i <= 5; i++ {
		register(t, cc, testWorker(fmt.Sprintf("p%d", i), fmt.Sprintf("z%d", i), "dc1"), fitness.UnsetClass)
	}
	cc.mu.Lock()
	cc.masterProcessID = "p1"
	cc.mu.Unlock()

	req := RecruitFromConfigurationRequest{
		Configuration: DatabaseConfiguration{
			TLogReplicationFactor: 3,
			DesiredLogs:           3,
			DesiredProxies:        1,
			DesiredResolvers:      1,
			TLogPolicy:            acrossZones(3),
		},
	}

	cc.mu.Lock()
	reply, err := cc.findWorkersForConfigurationLocked(req)
	cc.mu.Unlock()
	if err != nil {
		t.Fatalf("Recruitment failed: %v", err)
	}

	if len(reply.TLogs) != 3 {
		t.Fatalf("Expected 3 tlogs, got %d", len(reply.TLogs))
	}
	zones := make(map[string]bool)
	for _, w := range reply.TLogs {
		zones[w.Locality.ZoneID] = true
	}
	if len(zones) != 3 {
		t.Errorf("Expected tlogs across 3 distinct zones, got %v", zones)
	}
	if len(reply.Proxies) != 1 || len(reply.Resolvers) != 1 {
		t.Errorf("Expected 1 proxy and 1 resolver, got %d/%d", len(reply.Proxies), len(reply.Resolvers))
	}
}

// TestFitnessTrumpsCount tests that a best-fit datacenter supplies the
// whole tlog team even when a worse-fit one also satisfies cardinality
func TestFitnessTrumpsCount(t *testing.T) {
	cc, _ := newTestController(t, nil)

	for i := 0; i < 10; i++ {
		register(t, cc, testWorker(fmt.Sprintf("a%d", i), fmt.Sprintf("az%d", i), "dc-a"), fitness.StorageClass)
	}
	for i := 0; i < 10; i++ {
		register(t, cc, testWorker(fmt.Sprintf("b%d", i), fmt.Sprintf("bz%d", i), "dc-b"), fitness.TransactionClass)
	}

	req := RecruitFromConfigurationRequest{
		Configuration: DatabaseConfiguration{
			TLogReplicationFactor: 3,
			DesiredLogs:           5,
			DesiredProxies:        1,
			DesiredResolvers:      1,
			TLogPolicy:            acrossZones(3),
		},
	}

	cc.mu.Lock()
	reply, err := cc.findWorkersForConfigurationLocked(req)
	cc.mu.Unlock()
	if err != nil {
		t.Fatalf("Recruitment failed: %v", err)
	}

	if len(reply.TLogs) != 5 {
		t.Fatalf("Expected 5 tlogs, got %d", len(reply.TLogs))
	}
	for _, w := range reply.TLogs {
		if w.Locality.DCID != "dc-b" {
			t.Errorf("TLog %s recruited from %s; best-fit DC must win", w.ProcessID(), w.Locality.DCID)
		}
	}
}

// TestGraceWindowRejection tests that a below-expectation placement fails
// inside the startup grace window and succeeds after it elapses with the
// same population
func TestGraceWindowRejection(t *testing.T) {
	now := time.Unix(1000, 0)
	cc, _ := newTestController(t, func(cfg *Config, deps *Dependencies) {
		cfg.WaitForGoodRecruitmentDelay = time.Hour
		cfg.ExpectedProxyFitness = fitness.GoodFit
		cfg.ExpectedResolverFitness = fitness.GoodFit
		cfg.ExpectedTLogFitness = fitness.GoodFit
		deps.Clock = func() time.Time { return now }
	})

	// Storage-class workers are worst-fit proxies and resolvers
	for i := 1; i <= 5; i++ {
		register(t, cc, testWorker(fmt.Sprintf("p%d", i), fmt.Sprintf("z%d", i), "dc1"), fitness.StorageClass)
	}

	req := RecruitFromConfigurationRequest{
		Configuration: DatabaseConfiguration{
			TLogReplicationFactor: 3,
			DesiredLogs:           3,
			DesiredProxies:        1,
			DesiredResolvers:      1,
			TLogPolicy:            acrossZones(3),
		},
	}

	cc.mu.Lock()
	_, err := cc.findWorkersForConfigurationLocked(req)
	cc.mu.Unlock()
	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("Expected ErrOperationFailed inside the grace window, got %v", err)
	}

	now = now.Add(2 * time.Hour)

	cc.mu.Lock()
	reply, err := cc.findWorkersForConfigurationLocked(req)
	cc.mu.Unlock()
	if err != nil {
		t.Fatalf("Expected success after the grace window, got %v", err)
	}
	if len(reply.TLogs) != 3 {
		t.Errorf("Expected 3 tlogs, got %d", len(reply.TLogs))
	}
}

// TestPolicySatisfaction tests that every returned tlog set satisfies the
// requested policy
func TestPolicySatisfaction(t *testing.T) {
	cc, _ := newTestController(t, nil)

	// Two workers per zone across 4 zones
	for i := 0; i < 8; i++ {
		register(t, cc, testWorker(fmt.Sprintf("p%d", i), fmt.Sprintf("z%d", i%4), "dc1"), fitness.TransactionClass)
	}

	conf := DatabaseConfiguration{
		TLogReplicationFactor: 3,
		DesiredLogs:           4,
		TLogPolicy:            acrossZones(3),
	}

	cc.mu.Lock()
	tlogs, err := cc.getWorkersForTlogsLocked(conf, map[string]int{}, false)
	cc.mu.Unlock()
	if err != nil {
		t.Fatalf("TLog recruitment failed: %v", err)
	}

	locs := make([]fitness.Locality, 0, len(tlogs))
	for _, w := range tlogs {
		locs = append(locs, w.Interf.Locality)
	}
	if !conf.Policy().Validate(locs) {
		t.Errorf("Returned set does not satisfy %s: %v", conf.Policy().Info(), locs)
	}
	if len(tlogs) < conf.TLogReplicationFactor || len(tlogs) > conf.GetDesiredLogs() {
		t.Errorf("Set size %d outside [%d, %d]", len(tlogs), conf.TLogReplicationFactor, conf.GetDesiredLogs())
	}
}

// TestTLogRecruitImpossible tests NoMoreServers when no tier satisfies
// the policy
func TestTLogRecruitImpossible(t *testing.T) {
	cc, _ := newTestController(t, nil)

	// All in one zone; across-3-zones cannot hold
	for i := 0; i < 5; i++ {
		register(t, cc, testWorker(fmt.Sprintf("p%d", i), "z1", "dc1"), fitness.TransactionClass)
	}

	conf := DatabaseConfiguration{
		TLogReplicationFactor: 3,
		DesiredLogs:           3,
		TLogPolicy:            acrossZones(3),
	}

	cc.mu.Lock()
	_, err := cc.getWorkersForTlogsLocked(conf, map[string]int{}, false)
	cc.mu.Unlock()
	if !errors.Is(err, ErrNoMoreServers) {
		t.Errorf("Expected ErrNoMoreServers, got %v", err)
	}
}

// TestStorageRecruitExclusions tests the exclusion filters and the
// critical path
func TestStorageRecruitExclusions(t *testing.T) {
	cc, _ := newTestController(t, nil)

	register(t, cc, testWorker("p1", "z1", "dc1"), fitness.StorageClass)
	register(t, cc, testWorker("p2", "z2", "dc1"), fitness.TransactionClass)
	register(t, cc, testWorker("p3", "z3", "dc2"), fitness.TesterClass)

	cc.mu.Lock()
	got, err := cc.getStorageWorkerLocked(RecruitStorageRequest{ExcludeMachines: []string{"z1"}})
	cc.mu.Unlock()
	if !errors.Is(err, ErrNoMoreServers) {
		t.Fatalf("Expected ErrNoMoreServers with z1 excluded (p2 worst-fit, p3 tester), got %v %v", got, err)
	}

	// Critical recruitment accepts the worst-fit transaction worker but
	// never a tester
	cc.mu.Lock()
	got, err = cc.getStorageWorkerLocked(RecruitStorageRequest{ExcludeMachines: []string{"z1"}, CriticalRecruitment: true})
	cc.mu.Unlock()
	if err != nil {
		t.Fatalf("Critical recruitment failed: %v", err)
	}
	if got.Interf.ProcessID() != "p2" {
		t.Errorf("Expected p2 under critical recruitment, got %s", got.Interf.ProcessID())
	}
}

// TestPlacementDeterminism tests that an identical seed and population
// yield an identical placement
func TestPlacementDeterminism(t *testing.T) {
	build := func() *ClusterController {
		cc, _ := newTestController(t, func(cfg *Config, deps *Dependencies) {
			deps.Rand = rand.New(rand.NewSource(99))
		})
		for i := 0; i < 9; i++ {
			register(t, cc, testWorker(fmt.Sprintf("p%d", i), fmt.Sprintf("z%d", i%5), "dc1"), fitness.UnsetClass)
		}
		return cc
	}

	req := RecruitFromConfigurationRequest{
		Configuration: DatabaseConfiguration{
			TLogReplicationFactor: 3,
			DesiredLogs:           4,
			DesiredProxies:        2,
			DesiredResolvers:      1,
			TLogPolicy:            acrossZones(3),
		},
	}

	a := build()
	a.mu.Lock()
	replyA, errA := a.findWorkersForConfigurationLocked(req)
	a.mu.Unlock()

	b := build()
	b.mu.Lock()
	replyB, errB := b.findWorkersForConfigurationLocked(req)
	b.mu.Unlock()

	if errA != nil || errB != nil {
		t.Fatalf("Recruitments failed: %v %v", errA, errB)
	}
	if !reflect.DeepEqual(replyA, replyB) {
		t.Errorf("Seeded placements diverged:\n%+v\n%+v", replyA, replyB)
	}
}

// TestRecruitStorageWaitsForProcessClasses tests that non-critical
// storage recruitment queues until class overrides load, then drains
func TestRecruitStorageWaitsForProcessClasses(t *testing.T) {
	cc, _ := newTestController(t, nil)

	register(t, cc, testWorker("p1", "z1", "dc1"), fitness.StorageClass)

	resultCh := make(chan error, 1)
	go func() {
		_, err := cc.RecruitStorage(context.Background(), RecruitStorageRequest{})
		resultCh <- err
	}()

	select {
	case err := <-resultCh:
		t.Fatalf("Recruitment completed before process classes loaded: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	// Loading classes drains the outstanding queue
	cc.applyProcessClasses(nil)
	cc.checkOutstandingRequests()

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Recruitment failed after classes loaded: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Outstanding storage request not drained")
	}
}
