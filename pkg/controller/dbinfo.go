package controller

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txdb/pkg/asyncvar"
)

// issueEntry is one reported issue with the id of the report holding it
type issueEntry struct {
	issue string
	id    string
}

// forceSignal is an idempotent one-shot trigger, replaced per master
// incarnation
type forceSignal struct {
	ch   chan struct{}
	once sync.Once
	set  bool
	mu   sync.Mutex
}

func newForceSignal() *forceSignal {
	return &forceSignal{ch: make(chan struct{})}
}

func (s *forceSignal) fire() {
	s.once.Do(func() {
		s.mu.Lock()
		s.set = true
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *forceSignal) isSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

func (s *forceSignal) done() <-chan struct{} { return s.ch }

// dbInfo is the controller's mutable view of the database.
//
// serverInfo and clientInfo are replaced wholesale. mu guards the plain
// fields and additionally serializes every read-modify-write cycle on
// the two cells (RegisterMaster, installMaster, the txn-info monitor);
// writers must hold it from Get through Set so no publish is built from
// a stale snapshot. Plain Get snapshots for readers stay lock-free.
type dbInfo struct {
	serverInfo *asyncvar.Var[ServerDBInfo]
	clientInfo *asyncvar.Var[ClientDBInfo]

	mu                      sync.Mutex
	clientsWithIssues       map[string]issueEntry
	workersWithIssues       map[string]issueEntry
	incompatibleConnections map[string]time.Time
	clientVersionMap        map[string][]string
	masterRegistrationCount int64
	config                  DatabaseConfiguration
	forceMasterFailure      *forceSignal
}

func newDBInfo(ccID string) *dbInfo {
	server := ServerDBInfo{
		ID:                  uuid.NewString(),
		ClusterControllerID: ccID,
	}
	return &dbInfo{
		serverInfo:              asyncvar.New(server),
		clientInfo:              asyncvar.New(ClientDBInfo{}),
		clientsWithIssues:       make(map[string]issueEntry),
		workersWithIssues:       make(map[string]issueEntry),
		incompatibleConnections: make(map[string]time.Time),
		clientVersionMap:        make(map[string][]string),
		forceMasterFailure:      newForceSignal(),
	}
}

// addIssue records a caller's issue string, returning the report id
func addIssue(issueMap map[string]issueEntry, addr, issue string) string {
	if issue == "" {
		delete(issueMap, addr)
		return ""
	}
	id := uuid.NewString()
	issueMap[addr] = issueEntry{issue: issue, id: id}
	return id
}

// removeIssue clears the caller's issue if the report still holds it
func removeIssue(issueMap map[string]issueEntry, addr, issue, issueID string) {
	if issue == "" {
		return
	}
	if e, ok := issueMap[addr]; ok && e.id == issueID {
		delete(issueMap, addr)
	}
}

// issuesSnapshot copies an issue map for the status fetcher
func issuesSnapshot(issueMap map[string]issueEntry) map[string]string {
	out := make(map[string]string, len(issueMap))
	for addr, e := range issueMap {
		out[addr] = e.issue
	}
	return out
}
