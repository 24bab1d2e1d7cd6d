package controller

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// watchDatabase is the master watchdog: recruit a master, watch it with
// adaptive failure detection, and go around again when it dies or a
// failover is forced.
func (cc *ClusterController) watchDatabase(ctx context.Context) {
	for ctx.Err() == nil {
		recoveryStart := cc.clock()

		cc.mu.Lock()
		candidate, err := cc.getMasterWorkerLocked(false)
		if err == nil {
			cc.masterProcessID = candidate.Interf.ProcessID()
		}
		cc.mu.Unlock()

		if err != nil {
			if errors.Is(err, ErrNoMoreServers) {
				if cc.sleep(ctx, cc.cfg.AttemptRecruitmentDelay) != nil {
					return
				}
				continue
			}
			cc.endRole(err)
			return
		}

		// Prefer temporarily having no master over committing to a bad one
		fit := candidate.ProcessClass.MachineClassFitness(fitness.RoleMaster)
		if fit > cc.cfg.ExpectedMasterFitness &&
			cc.clock().Sub(cc.startTime) < cc.cfg.WaitForGoodRecruitmentDelay {
			cc.logger.Debug("waiting for a better master candidate",
				logging.String("fitness", fit.String()))
			if cc.sleep(ctx, cc.cfg.AttemptRecruitmentDelay) != nil {
				return
			}
			continue
		}

		master, err := cc.recruitMaster(ctx, candidate)
		if err != nil {
			// Candidate didn't answer; spin and try another
			cc.logger.Warn("master recruitment attempt failed",
				logging.ProcessID(candidate.Interf.ProcessID()), logging.Error(err))
			if cc.sleep(ctx, cc.cfg.MasterSpinDelay) != nil {
				return
			}
			continue
		}

		force := cc.installMaster(master)
		cc.logger.Info("master recruited",
			logging.String("master_id", master.ID),
			logging.Address(master.Address),
			logging.Uint64("lifetime", cc.db.serverInfo.Get().MasterLifetime))

		// Throttle recovery flapping
		if cc.sleep(ctx, cc.cfg.MasterSpinDelay) != nil {
			return
		}

		cause := cc.watchMaster(ctx, master, recoveryStart, force)
		if cause == "" {
			return
		}
		cc.metrics.RecordMasterFailover(cause)
		cc.logger.Warn("detected failed master",
			logging.String("master_id", master.ID),
			logging.String("cause", cause))
	}
}

// recruitMaster sends the recruit request to the chosen candidate
func (cc *ClusterController) recruitMaster(ctx context.Context, candidate WorkerDetails) (MasterInterface, error) {
	client, err := cc.dialer.DialWorker(candidate.Interf.Address)
	if err != nil {
		return MasterInterface{}, err
	}
	defer client.Close()

	rctx, cancel := context.WithTimeout(ctx, cc.cfg.RecruitmentTimeout)
	defer cancel()

	lifetime := cc.db.serverInfo.Get().MasterLifetime
	return client.RecruitMaster(rctx, RecruitMasterRequest{Lifetime: lifetime})
}

// installMaster resets per-incarnation state and publishes a fresh
// ServerDBInfo with an incremented master lifetime. The state reset and
// the serverInfo read-modify-write happen under one db.mu hold so a
// late registration from the outgoing master cannot interleave.
func (cc *ClusterController) installMaster(master MasterInterface) *forceSignal {
	force := newForceSignal()

	cc.db.mu.Lock()
	cc.db.masterRegistrationCount = 0
	cc.db.config = DatabaseConfiguration{}
	cc.db.forceMasterFailure = force

	prev := cc.db.serverInfo.Get()
	info := ServerDBInfo{
		ID:                  uuid.NewString(),
		ClusterControllerID: cc.id,
		Master:              master,
		MasterLifetime:      prev.MasterLifetime + 1,
	}
	cc.db.serverInfo.Set(info)
	cc.db.mu.Unlock()

	if cc.metrics != nil {
		cc.metrics.MasterRecruitments.Inc()
		cc.metrics.MasterLifetime.Set(float64(info.MasterLifetime))
	}
	return force
}

// watchMaster pings the master until a sustained failure or a forced
// failover. The tolerated failure duration adapts: once the master has
// registered, tolerance starts at the reaction time and shrinks slowly;
// before registration it grows with how long recovery has been running,
// because that recovery progress is already paid for.
func (cc *ClusterController) watchMaster(ctx context.Context, master MasterInterface, recoveryStart time.Time, force *forceSignal) string {
	client, err := cc.dialer.DialWorker(master.Address)
	if err != nil {
		return "failure_detected"
	}
	defer client.Close()

	watchStart := cc.clock()
	pingInterval := cc.cfg.MasterFailureReactionTime / 2
	if pingInterval <= 0 {
		pingInterval = 50 * time.Millisecond
	}

	var failedSince time.Time
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-force.done():
			return "forced"
		default:
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingInterval)
		pingErr := client.WaitFailure(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return ""
		}

		now := cc.clock()

		cc.db.mu.Lock()
		registered := cc.db.masterRegistrationCount > 0
		cc.db.mu.Unlock()

		var allowed time.Duration
		if registered {
			grace := now.Sub(watchStart).Seconds() *
				cc.cfg.MasterFailureReactionTime.Seconds() / cc.cfg.SecondsBeforeNoFailureDelay
			allowed = cc.cfg.MasterFailureReactionTime - time.Duration(grace*float64(time.Second))
			if allowed < 0 {
				allowed = 0
			}
		} else {
			allowed = time.Duration(now.Sub(recoveryStart).Seconds() *
				cc.cfg.MasterFailureSlopeDuringRecovery * float64(time.Second))
		}

		if pingErr == nil {
			failedSince = time.Time{}
			if err := cc.sleep(ctx, pingInterval); err != nil {
				return ""
			}
			continue
		}

		if failedSince.IsZero() {
			failedSince = now
		}
		if now.Sub(failedSince) >= allowed {
			return "failure_detected"
		}
		if err := cc.sleep(ctx, pingInterval/4); err != nil {
			return ""
		}
	}
}
