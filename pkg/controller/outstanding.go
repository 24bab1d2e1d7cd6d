package controller

import (
	"context"
	"errors"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

type recruitConfigResult struct {
	reply RecruitFromConfigurationReply
	err   error
}

type outstandingRecruitment struct {
	req     RecruitFromConfigurationRequest
	replyCh chan recruitConfigResult
}

type recruitStorageResult struct {
	reply RecruitStorageReply
	err   error
}

type outstandingStorage struct {
	req      RecruitStorageRequest
	deadline time.Time
	replyCh  chan recruitStorageResult
}

// RecruitStorage selects one storage worker, waiting for the population
// to change if none qualifies right now. Non-critical requests are
// refused until process-class overrides have been loaded from the
// coordination store.
func (cc *ClusterController) RecruitStorage(ctx context.Context, req RecruitStorageRequest) (RecruitStorageReply, error) {
	cc.mu.Lock()
	reply, err := cc.tryRecruitStorageLocked(req)
	if err == nil {
		cc.mu.Unlock()
		return reply, nil
	}
	if !errors.Is(err, ErrNoMoreServers) {
		cc.mu.Unlock()
		return RecruitStorageReply{}, err
	}

	out := &outstandingStorage{
		req:      req,
		deadline: cc.clock().Add(cc.cfg.RecruitmentTimeout),
		replyCh:  make(chan recruitStorageResult, 1),
	}
	cc.outstandingStorage = append(cc.outstandingStorage, out)
	cc.setOutstandingGaugesLocked()
	cc.mu.Unlock()

	cc.logger.Warn("storage recruitment queued", logging.Error(err))

	select {
	case res := <-out.replyCh:
		return res.reply, res.err
	case <-ctx.Done():
		return RecruitStorageReply{}, ctx.Err()
	case <-cc.ctx.Done():
		return RecruitStorageReply{}, ErrControllerStopped
	}
}

func (cc *ClusterController) tryRecruitStorageLocked(req RecruitStorageRequest) (RecruitStorageReply, error) {
	if !cc.gotProcessClasses && !req.CriticalRecruitment {
		return RecruitStorageReply{}, ErrNoMoreServers
	}
	worker, err := cc.getStorageWorkerLocked(req)
	if err != nil {
		return RecruitStorageReply{}, err
	}
	return RecruitStorageReply{Worker: worker.Interf, ProcessClass: worker.ProcessClass}, nil
}

// RecruitFromConfiguration selects a full placement, retrying until one
// exists. Within the startup grace window a not-good-enough placement
// retries after a short delay; after the window an unsatisfiable request
// queues until the population changes. Unexpected errors end the
// controller's role.
func (cc *ClusterController) RecruitFromConfiguration(ctx context.Context, req RecruitFromConfigurationRequest) (RecruitFromConfigurationReply, error) {
	for {
		cc.mu.Lock()
		reply, err := cc.findWorkersForConfigurationLocked(req)
		cc.mu.Unlock()

		if err == nil {
			return reply, nil
		}

		if errors.Is(err, ErrNoMoreServers) &&
			cc.clock().Sub(cc.startTime) >= cc.cfg.WaitForGoodRecruitmentDelay {
			out := &outstandingRecruitment{
				req:     req,
				replyCh: make(chan recruitConfigResult, 1),
			}
			cc.mu.Lock()
			cc.outstandingRecruitment = append(cc.outstandingRecruitment, out)
			cc.setOutstandingGaugesLocked()
			cc.mu.Unlock()

			cc.logger.Warn("recruitment from configuration queued", logging.Error(err))

			select {
			case res := <-out.replyCh:
				return res.reply, res.err
			case <-ctx.Done():
				return RecruitFromConfigurationReply{}, ctx.Err()
			case <-cc.ctx.Done():
				return RecruitFromConfigurationReply{}, ErrControllerStopped
			}
		}

		if !errors.Is(err, ErrNoMoreServers) && !errors.Is(err, ErrOperationFailed) {
			cc.endRole(err)
			return RecruitFromConfigurationReply{}, err
		}

		// Not good enough yet, or still in the grace window: retry
		if err := cc.sleep(ctx, cc.cfg.AttemptRecruitmentDelay); err != nil {
			return RecruitFromConfigurationReply{}, err
		}
	}
}

func (cc *ClusterController) setOutstandingGaugesLocked() {
	if cc.metrics == nil {
		return
	}
	cc.metrics.OutstandingRecruitments.WithLabelValues("configuration").Set(float64(len(cc.outstandingRecruitment)))
	cc.metrics.OutstandingRecruitments.WithLabelValues("storage").Set(float64(len(cc.outstandingStorage)))
}

// checkOutstandingRequests retries everything waiting on the population.
// It runs after each registration, class update and availability event,
// and is idempotent.
func (cc *ClusterController) checkOutstandingRequests() {
	cc.checkOutstandingRecruitmentRequests()
	cc.checkOutstandingStorageRequests()
	cc.checkOutstandingMasterRequests()
}

func (cc *ClusterController) checkOutstandingRecruitmentRequests() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	kept := cc.outstandingRecruitment[:0]
	for _, out := range cc.outstandingRecruitment {
		reply, err := cc.findWorkersForConfigurationLocked(out.req)
		if err == nil {
			out.replyCh <- recruitConfigResult{reply: reply}
			continue
		}
		if errors.Is(err, ErrNoMoreServers) || errors.Is(err, ErrOperationFailed) {
			kept = append(kept, out)
			continue
		}
		out.replyCh <- recruitConfigResult{err: err}
		cc.logger.Error("outstanding recruitment failed", logging.Error(err))
	}
	cc.outstandingRecruitment = kept
	cc.setOutstandingGaugesLocked()
}

func (cc *ClusterController) checkOutstandingStorageRequests() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := cc.clock()
	kept := cc.outstandingStorage[:0]
	for _, out := range cc.outstandingStorage {
		if out.deadline.Before(now) {
			out.replyCh <- recruitStorageResult{err: ErrTimedOut}
			continue
		}
		reply, err := cc.tryRecruitStorageLocked(out.req)
		if err == nil {
			out.replyCh <- recruitStorageResult{reply: reply}
			continue
		}
		if errors.Is(err, ErrNoMoreServers) {
			kept = append(kept, out)
			continue
		}
		out.replyCh <- recruitStorageResult{err: err}
		cc.logger.Error("outstanding storage recruitment failed", logging.Error(err))
	}
	cc.outstandingStorage = kept
	cc.setOutstandingGaugesLocked()
}

// checkOutstandingMasterRequests schedules one throttled better-master
// check; further triggers are ignored while a check is pending.
func (cc *ClusterController) checkOutstandingMasterRequests() {
	cc.mu.Lock()
	if cc.betterMasterChecking {
		cc.mu.Unlock()
		return
	}
	cc.betterMasterChecking = true
	cc.mu.Unlock()

	cc.spawn(func() {
		defer func() {
			cc.mu.Lock()
			cc.betterMasterChecking = false
			cc.mu.Unlock()
		}()

		if err := cc.sleep(cc.ctx, cc.cfg.CheckBetterMasterInterval); err != nil {
			return
		}

		if cc.betterMasterExists() {
			cc.db.mu.Lock()
			force := cc.db.forceMasterFailure
			cc.db.mu.Unlock()
			if !force.isSet() {
				force.fire()
				cc.metrics.RecordMasterFailover("better_master")
				cc.logger.Info("forcing master failover for a better placement",
					logging.String("master_id", cc.db.serverInfo.Get().Master.ID))
			}
		}
	})
}
