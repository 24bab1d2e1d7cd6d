package controller

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestGetServerDBInfoImmediateWhenStale tests that a stale known id gets
// the current snapshot without waiting
func TestGetServerDBInfoImmediateWhenStale(t *testing.T) {
	cc, _ := newTestController(t, nil)

	start := time.Now()
	info := cc.GetServerDBInfo(context.Background(), GetServerDBInfoRequest{KnownServerInfoID: "stale"}, "w1:1")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Stale request should return immediately, took %v", elapsed)
	}
	if info.ID != cc.ServerInfo().ID {
		t.Errorf("Expected current snapshot, got %s", info.ID)
	}
}

// TestGetServerDBInfoWakesOnChange tests the long-poll: a caller holding
// the current id is woken by the next publish and observes a new id
func TestGetServerDBInfoWakesOnChange(t *testing.T) {
	cc, _ := newTestController(t, nil)
	knownID := cc.ServerInfo().ID

	resultCh := make(chan ServerDBInfo, 1)
	go func() {
		resultCh <- cc.GetServerDBInfo(context.Background(), GetServerDBInfoRequest{KnownServerInfoID: knownID}, "w1:1")
	}()

	select {
	case <-resultCh:
		t.Fatal("Long-poll returned before any change")
	case <-time.After(30 * time.Millisecond):
	}

	next := cc.ServerInfo()
	next.ID = uuid.NewString()
	next.RecoveryCount = 7
	cc.db.serverInfo.Set(next)

	select {
	case info := <-resultCh:
		if info.ID == knownID {
			t.Error("Woken caller must observe a strictly newer id")
		}
		if info.RecoveryCount != 7 {
			t.Errorf("Woken caller must observe the new value, got %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("Long-poll not woken by publish")
	}
}

// TestOpenDatabaseRecordsIssuesWhileWaiting tests the issue-map
// bookkeeping around the long-poll
func TestOpenDatabaseRecordsIssuesWhileWaiting(t *testing.T) {
	cc, _ := newTestController(t, nil)
	knownID := cc.ClientInfo().ID

	done := make(chan ClientDBInfo, 1)
	go func() {
		done <- cc.OpenDatabase(context.Background(), OpenDatabaseRequest{
			KnownClientInfoID: knownID,
			Issues:            "slow_disk",
			SupportedVersions: []string{"7.1"},
		}, "client:9")
	}()

	waitFor(t, time.Second, func() bool {
		cc.db.mu.Lock()
		defer cc.db.mu.Unlock()
		e, ok := cc.db.clientsWithIssues["client:9"]
		return ok && e.issue == "slow_disk" && len(cc.db.clientVersionMap["client:9"]) == 1
	}, "Issue and version not recorded during long-poll")

	next := cc.ClientInfo()
	next.ID = uuid.NewString()
	cc.db.clientInfo.Set(next)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OpenDatabase not woken by publish")
	}

	cc.db.mu.Lock()
	_, issueHeld := cc.db.clientsWithIssues["client:9"]
	_, versionHeld := cc.db.clientVersionMap["client:9"]
	cc.db.mu.Unlock()
	if issueHeld || versionHeld {
		t.Error("Issue and version entries must be released after the reply")
	}
}

// TestLongPollVersionMonotonicity tests that a subscriber stream observes
// pairwise distinct, always-fresh ids
func TestLongPollVersionMonotonicity(t *testing.T) {
	cc, _ := newTestController(t, nil)

	seen := make(map[string]bool)
	known := ""
	for i := 0; i < 5; i++ {
		info := cc.GetServerDBInfo(context.Background(), GetServerDBInfoRequest{KnownServerInfoID: known}, "w1:1")
		if info.ID == known {
			t.Fatalf("Returned id %s equals the known id", info.ID)
		}
		if seen[info.ID] {
			t.Fatalf("Returned id %s repeated", info.ID)
		}
		seen[info.ID] = true
		known = info.ID

		next := info
		next.ID = uuid.NewString()
		next.RecoveryCount = uint64(i + 1)
		cc.db.serverInfo.Set(next)
	}
}

// TestIncompatiblePeersRecordedWithExpiry tests incompatible-peer
// tracking from server-info requests
func TestIncompatiblePeersRecordedWithExpiry(t *testing.T) {
	cc, _ := newTestController(t, nil)

	cc.GetServerDBInfo(context.Background(), GetServerDBInfoRequest{
		KnownServerInfoID: "stale",
		IncompatiblePeers: []string{"old:1", "old:2"},
	}, "w1:1")

	cc.db.mu.Lock()
	defer cc.db.mu.Unlock()
	if len(cc.db.incompatibleConnections) != 2 {
		t.Fatalf("Expected 2 incompatible peers, got %d", len(cc.db.incompatibleConnections))
	}
	for peer, expiry := range cc.db.incompatibleConnections {
		if !expiry.After(time.Now()) {
			t.Errorf("Peer %s expiry must be in the future", peer)
		}
	}
}
