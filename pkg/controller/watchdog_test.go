package controller

import (
	"testing"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// TestWatchdogRecruitsMaster tests the recruit path: the watchdog picks
// the best candidate, installs the master, and publishes a fresh
// ServerDBInfo with an incremented lifetime
func TestWatchdogRecruitsMaster(t *testing.T) {
	cc, dialer := newTestController(t, nil)

	best := testWorker("m1", "z1", "dc1")
	register(t, cc, best, fitness.MasterClass)
	dialer.setMaster(best.Address, MasterInterface{ID: "mi-1", Locality: best.Locality, Address: best.Address})

	go cc.watchDatabase(cc.ctx)

	waitFor(t, 2*time.Second, func() bool {
		info := cc.ServerInfo()
		return info.Master.ID == "mi-1" && info.MasterLifetime == 1
	}, "Watchdog did not install the recruited master")

	cc.mu.Lock()
	masterPID := cc.masterProcessID
	cc.mu.Unlock()
	if masterPID != "m1" {
		t.Errorf("Expected master slot reserved for m1, got %q", masterPID)
	}
}

// TestWatchdogForcedFailoverRerecruits tests scenario six's tail: firing
// forceMasterFailure wakes the watcher and the next ServerDBInfo carries
// a strictly greater lifetime
func TestWatchdogForcedFailoverRerecruits(t *testing.T) {
	cc, dialer := newTestController(t, nil)

	best := testWorker("m1", "z1", "dc1")
	register(t, cc, best, fitness.MasterClass)
	dialer.setMaster(best.Address, MasterInterface{ID: "mi-1", Locality: best.Locality, Address: best.Address})

	go cc.watchDatabase(cc.ctx)

	waitFor(t, 2*time.Second, func() bool {
		return cc.ServerInfo().MasterLifetime == 1
	}, "First recruitment did not complete")

	cc.db.mu.Lock()
	force := cc.db.forceMasterFailure
	cc.db.mu.Unlock()
	force.fire()

	waitFor(t, 2*time.Second, func() bool {
		return cc.ServerInfo().MasterLifetime == 2
	}, "Forced failover did not produce a re-recruitment with a greater lifetime")
}

// TestWatchdogDetectsDeadMaster tests the adaptive failure path: a master
// that stops answering is replaced
func TestWatchdogDetectsDeadMaster(t *testing.T) {
	cc, dialer := newTestController(t, nil)

	first := testWorker("m1", "z1", "dc1")
	second := testWorker("m2", "z2", "dc1")
	register(t, cc, first, fitness.MasterClass)
	dialer.setMaster(first.Address, MasterInterface{ID: "mi-1", Locality: first.Locality, Address: first.Address})
	dialer.setMaster(second.Address, MasterInterface{ID: "mi-2", Locality: second.Locality, Address: second.Address})

	go cc.watchDatabase(cc.ctx)

	waitFor(t, 2*time.Second, func() bool {
		return cc.ServerInfo().MasterLifetime == 1
	}, "First recruitment did not complete")
	firstID := cc.ServerInfo().Master.ID

	// A standby candidate for the re-recruitment, then kill the sitting
	// master's process
	register(t, cc, second, fitness.MasterClass)
	cc.db.mu.Lock()
	cc.db.masterRegistrationCount = 1
	cc.db.mu.Unlock()
	dialer.setFailed(first.Address, true)

	waitFor(t, 2*time.Second, func() bool {
		info := cc.ServerInfo()
		return info.MasterLifetime >= 2 && info.Master.ID != firstID
	}, "Dead master was not detected and replaced")
}
