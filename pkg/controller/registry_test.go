package controller

import (
	"testing"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// TestRegisterNewWorker tests that registration installs one entry
func TestRegisterNewWorker(t *testing.T) {
	cc, _ := newTestController(t, nil)

	done := register(t, cc, testWorker("p1", "z1", "dc1"), fitness.StorageClass)
	if done == nil {
		t.Fatal("First registration must return a reply channel")
	}

	workers := cc.GetWorkers(GetWorkersRequest{})
	if len(workers) != 1 {
		t.Fatalf("Expected 1 worker, got %d", len(workers))
	}
	if workers[0].ProcessClass.Type != fitness.StorageClass {
		t.Errorf("Expected storage class, got %v", workers[0].ProcessClass)
	}
}

// TestRegisterStaleRetransmissionIgnored tests the same-gen same-interface
// case: a retransmission must not replace the live registration
func TestRegisterStaleRetransmissionIgnored(t *testing.T) {
	cc, _ := newTestController(t, nil)

	w := testWorker("p1", "z1", "dc1")
	first := register(t, cc, w, fitness.StorageClass)
	second := register(t, cc, w, fitness.StorageClass)

	if second != nil {
		t.Error("Stale retransmission must be ignored")
	}
	select {
	case <-first:
		t.Error("Live registration must not be resolved by a retransmission")
	default:
	}
	if len(cc.GetWorkers(GetWorkersRequest{})) != 1 {
		t.Error("Registry must still hold exactly one entry")
	}
}

// TestRegisterNewerGenerationReplaces tests generation-based replacement.
// The old reply is abandoned (Never), not completed.
func TestRegisterNewerGenerationReplaces(t *testing.T) {
	cc, _ := newTestController(t, nil)

	w := testWorker("p1", "z1", "dc1")
	first := register(t, cc, w, fitness.StorageClass)

	second := cc.RegisterWorker(RegisterWorkerRequest{
		Worker:       w,
		ProcessClass: fitness.ProcessClass{Type: fitness.StorageClass, Source: fitness.CommandLineSource},
		Generation:   2,
	})
	if second == nil {
		t.Fatal("Newer generation must replace the registration")
	}

	select {
	case <-first:
		t.Error("Replaced registration's reply must be abandoned, not completed")
	case <-time.After(20 * time.Millisecond):
	}

	if len(cc.GetWorkers(GetWorkersRequest{})) != 1 {
		t.Error("Replacement must not expose a second entry")
	}
}

// TestRegisterDifferentInterfaceReplaces tests interface-id replacement
// at an equal generation
func TestRegisterDifferentInterfaceReplaces(t *testing.T) {
	cc, _ := newTestController(t, nil)

	w := testWorker("p1", "z1", "dc1")
	register(t, cc, w, fitness.StorageClass)

	restarted := w
	restarted.ID = "p1-if2"
	done := register(t, cc, restarted, fitness.StorageClass)
	if done == nil {
		t.Fatal("Different interface id must replace even at equal generation")
	}

	workers := cc.GetWorkers(GetWorkersRequest{})
	if len(workers) != 1 || workers[0].Interf.ID != "p1-if2" {
		t.Errorf("Expected the restarted interface, got %+v", workers)
	}
}

// TestClassOverrideOnRegistration tests that a DB-sourced override wins
// at registration time, and an unset declared class defers to the store
func TestClassOverrideOnRegistration(t *testing.T) {
	cc, _ := newTestController(t, nil)

	cc.applyProcessClasses([]coordkv.KeyValue{
		{
			Key:   coordkv.ProcessClassKeyFor("p1"),
			Value: coordkv.EncodeProcessClassValue(fitness.ProcessClass{Type: fitness.TransactionClass, Source: fitness.DBSource}),
		},
	})

	register(t, cc, testWorker("p1", "z1", "dc1"), fitness.StorageClass)
	register(t, cc, testWorker("p2", "z2", "dc1"), fitness.UnsetClass)

	workers := cc.GetWorkers(GetWorkersRequest{})
	byPID := make(map[string]fitness.ProcessClass)
	for _, w := range workers {
		byPID[w.Interf.ProcessID()] = w.ProcessClass
	}

	if byPID["p1"].Type != fitness.TransactionClass {
		t.Errorf("DB override must win for p1, got %v", byPID["p1"])
	}
	if byPID["p2"].Type != fitness.UnsetClass {
		t.Errorf("p2 has no override and declared unset, got %v", byPID["p2"])
	}
}

// TestWorkerRemovedOnFailure tests the availability watcher's removal
// path: the registration reply resolves and the entry disappears
func TestWorkerRemovedOnFailure(t *testing.T) {
	cc, dialer := newTestController(t, nil)

	w := testWorker("p1", "z1", "dc1")
	done := register(t, cc, w, fitness.StorageClass)

	dialer.setFailed(w.Address, true)

	waitFor(t, time.Second, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, "Registration reply not resolved after worker failure")

	waitFor(t, time.Second, func() bool {
		return len(cc.GetWorkers(GetWorkersRequest{})) == 0
	}, "Failed worker not removed from registry")
}

// TestGetWorkersTesterFilter tests the tester-class flag and the client
// worker listing
func TestGetWorkersTesterFilter(t *testing.T) {
	cc, _ := newTestController(t, nil)

	register(t, cc, testWorker("p1", "z1", "dc1"), fitness.StorageClass)
	register(t, cc, testWorker("p2", "z2", "dc1"), fitness.TesterClass)

	testers := cc.GetWorkers(GetWorkersRequest{Flags: FlagTesterClass})
	if len(testers) != 1 || testers[0].Interf.ProcessID() != "p2" {
		t.Errorf("Expected only the tester, got %+v", testers)
	}

	all := cc.GetWorkers(GetWorkersRequest{})
	if len(all) != 2 {
		t.Errorf("Expected both workers without the flag, got %d", len(all))
	}

	clients := cc.GetClientWorkers()
	if len(clients) != 1 || clients[0].ProcessID() != "p1" {
		t.Errorf("Client workers must exclude testers, got %+v", clients)
	}
}

// TestRegistryInjectivity tests that concurrent re-registrations never
// expose a second entry for one process id
func TestRegistryInjectivity(t *testing.T) {
	cc, _ := newTestController(t, nil)

	w := testWorker("p1", "z1", "dc1")
	for gen := uint64(1); gen <= 20; gen++ {
		iface := w
		if gen%2 == 0 {
			iface.ID = "p1-if2"
		}
		cc.RegisterWorker(RegisterWorkerRequest{
			Worker:       iface,
			ProcessClass: fitness.ProcessClass{Type: fitness.StorageClass, Source: fitness.CommandLineSource},
			Generation:   gen,
		})
		if n := len(cc.GetWorkers(GetWorkersRequest{})); n != 1 {
			t.Fatalf("Registry exposed %d entries for one process id at gen %d", n, gen)
		}
	}
}
