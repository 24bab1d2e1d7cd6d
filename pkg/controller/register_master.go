package controller

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// RegisterMaster accepts the master's periodic registration. Only the
// currently recruited master with a strictly newer registration count is
// accepted; everything else is dropped as stale. Each observable change
// publishes a fresh ServerDBInfo id.
//
// The whole read-decide-publish cycle runs under db.mu so a registration
// from the outgoing master cannot interleave with installMaster and
// write back a stale snapshot.
func (cc *ClusterController) RegisterMaster(req RegisterMasterRequest) error {
	cc.logger.Info("master registration received",
		logging.String("db_name", req.DBName),
		logging.String("master_id", req.ID),
		logging.Int("tlogs", len(req.LogSystemConfig.TLogs)),
		logging.Int("proxies", len(req.Proxies)),
		logging.Int("resolvers", len(req.Resolvers)),
		logging.Int64("registration_count", req.RegistrationCount),
		logging.Int("recovery_state", int(req.RecoveryState)))

	cc.db.mu.Lock()

	dbi := cc.db.serverInfo.Get()
	if dbi.Master.ID != req.ID || req.RegistrationCount <= cc.db.masterRegistrationCount {
		existing := cc.db.masterRegistrationCount
		cc.db.mu.Unlock()
		cc.logger.Warn("stale master registration dropped",
			logging.String("master_id", req.ID),
			logging.String("existing_id", dbi.Master.ID),
			logging.Int64("registration_count", req.RegistrationCount),
			logging.Int64("existing_count", existing))
		return ErrMasterRegistrationStale
	}

	cc.db.masterRegistrationCount = req.RegistrationCount
	cc.db.config = req.Configuration

	changed := false

	if dbi.RecoveryState != req.RecoveryState {
		dbi.RecoveryState = req.RecoveryState
		changed = true
	}
	if !reflect.DeepEqual(dbi.PriorCommittedLogServers, req.PriorCommittedLogServers) {
		dbi.PriorCommittedLogServers = req.PriorCommittedLogServers
		changed = true
	}

	clientInfo := cc.db.clientInfo.Get()
	if !reflect.DeepEqual(clientInfo.Proxies, req.Proxies) {
		changed = true
		newClient := ClientDBInfo{
			ID:                      uuid.NewString(),
			Proxies:                 req.Proxies,
			ClientTxnInfoSampleRate: clientInfo.ClientTxnInfoSampleRate,
			ClientTxnInfoSizeLimit:  clientInfo.ClientTxnInfoSizeLimit,
		}
		cc.db.clientInfo.Set(newClient)
		if cc.metrics != nil {
			cc.metrics.ClientInfoPublishes.Inc()
		}
		dbi.Client = newClient
	}

	if !reflect.DeepEqual(dbi.LogSystemConfig, req.LogSystemConfig) {
		dbi.LogSystemConfig = req.LogSystemConfig
		changed = true
	}
	if !reflect.DeepEqual(dbi.Resolvers, req.Resolvers) {
		dbi.Resolvers = req.Resolvers
		changed = true
	}
	if dbi.RecoveryCount != req.RecoveryCount {
		dbi.RecoveryCount = req.RecoveryCount
		changed = true
	}

	if changed {
		dbi.ID = uuid.NewString()
		cc.db.serverInfo.Set(dbi)
		if cc.metrics != nil {
			cc.metrics.ServerInfoPublishes.Inc()
		}
	}

	cc.db.mu.Unlock()

	cc.checkOutstandingMasterRequests()
	return nil
}

// Ping answers immediately; used by peers to confirm the controller is up
func (cc *ClusterController) Ping() {}
