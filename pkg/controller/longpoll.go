package controller

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// OpenDatabase long-polls the client topology view: the reply is sent as
// soon as the caller's known id goes stale, or after a jittered timeout
// so abandoned clients don't pin resources.
func (cc *ClusterController) OpenDatabase(ctx context.Context, req OpenDatabaseRequest, callerAddr string) ClientDBInfo {
	cc.db.mu.Lock()
	issueID := addIssue(cc.db.clientsWithIssues, callerAddr, req.Issues)
	if len(req.SupportedVersions) > 0 {
		cc.db.clientVersionMap[callerAddr] = req.SupportedVersions
	}
	cc.db.mu.Unlock()

	cc.waitForChange(ctx, req.KnownClientInfoID, func() string { return cc.db.clientInfo.Get().ID },
		cc.db.clientInfo.OnChange)

	cc.db.mu.Lock()
	removeIssue(cc.db.clientsWithIssues, callerAddr, req.Issues, issueID)
	delete(cc.db.clientVersionMap, callerAddr)
	cc.db.mu.Unlock()

	return cc.db.clientInfo.Get()
}

// GetServerDBInfo long-polls the server topology view and records the
// caller's issues and incompatible peers while it waits
func (cc *ClusterController) GetServerDBInfo(ctx context.Context, req GetServerDBInfoRequest, callerAddr string) ServerDBInfo {
	cc.db.mu.Lock()
	issueID := addIssue(cc.db.workersWithIssues, callerAddr, req.Issues)
	expiry := cc.clock().Add(cc.cfg.IncompatiblePeersLoggingInterval)
	for _, peer := range req.IncompatiblePeers {
		cc.db.incompatibleConnections[peer] = expiry
	}
	cc.db.mu.Unlock()

	cc.waitForChange(ctx, req.KnownServerInfoID, func() string { return cc.db.serverInfo.Get().ID },
		cc.db.serverInfo.OnChange)

	cc.db.mu.Lock()
	removeIssue(cc.db.workersWithIssues, callerAddr, req.Issues, issueID)
	cc.db.mu.Unlock()

	info := cc.db.serverInfo.Get()
	cc.logger.Debug("sending server info", logging.Address(callerAddr),
		logging.String("id", info.ID))
	return info
}

// waitForChange blocks while the published id still equals knownID,
// bounded by the jittered broadcast timeout
func (cc *ClusterController) waitForChange(ctx context.Context, knownID string, currentID func() string, onChange func() <-chan struct{}) {
	for currentID() == knownID {
		changed := onChange()
		if currentID() != knownID {
			return
		}

		timeout := time.NewTimer(time.Duration(float64(cc.cfg.BroadcastTimeout) * (0.9 + 0.2*cc.random01())))
		select {
		case <-changed:
			timeout.Stop()
		case <-timeout.C:
			return
		case <-ctx.Done():
			timeout.Stop()
			return
		case <-cc.ctx.Done():
			timeout.Stop()
			return
		}
	}
}
