package controller

import (
	"context"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// RegisterWorker installs or replaces a worker registration. The returned
// channel closes when the worker should stop serving and rejoin; a nil
// channel means the registration was a stale retransmission and was
// ignored. A replaced registration abandons the previous worker's channel
// so the prior worker task exits quietly.
func (cc *ClusterController) RegisterWorker(req RegisterWorkerRequest) <-chan struct{} {
	w := req.Worker
	pid := w.ProcessID()

	cc.mu.Lock()
	info, seen := cc.idWorker[pid]

	if !seen {
		processClass := req.ProcessClass
		if kvClass, ok := cc.idClass[pid]; ok &&
			(kvClass.Source == fitness.DBSource || req.ProcessClass.Type == fitness.UnsetClass) {
			processClass = kvClass
		}

		wctx, cancel := context.WithCancel(cc.ctx)
		info = &workerInfo{
			cancelWatcher: cancel,
			reply:         newVoidPromise(),
			gen:           req.Generation,
			interf:        w,
			initialClass:  req.ProcessClass,
			processClass:  processClass,
		}
		cc.idWorker[pid] = info
		cc.metrics.SetWorkerCount(len(cc.idWorker))
		if cc.metrics != nil {
			cc.metrics.WorkerRegistrations.WithLabelValues("new").Inc()
		}
		done := info.reply.Done()
		cc.spawn(func() { cc.workerAvailabilityWatch(wctx, w, req.ProcessClass) })
		cc.mu.Unlock()

		cc.logger.Info("worker registered",
			logging.ProcessID(pid),
			logging.String("zone", w.Locality.ZoneID),
			logging.String("data_hall", w.Locality.DataHallID),
			logging.String("dc", w.Locality.DCID),
			logging.Address(w.Address),
			logging.String("class", processClass.String()))

		cc.checkOutstandingRequests()
		return done
	}

	// A registration with the same interface and generation is a stale
	// retransmission; only a different interface or a strictly newer
	// generation replaces the entry.
	if info.interf.ID == w.ID && req.Generation <= info.gen {
		if cc.metrics != nil {
			cc.metrics.WorkerRegistrations.WithLabelValues("stale").Inc()
		}
		cc.mu.Unlock()
		return nil
	}

	if info.processClass.Source == fitness.CommandLineSource ||
		(info.processClass.Source == fitness.AutoSource && req.ProcessClass.Type != fitness.UnsetClass) {
		info.processClass = req.ProcessClass
	}
	info.initialClass = req.ProcessClass
	info.reply = newVoidPromise()
	info.gen = req.Generation
	if cc.metrics != nil {
		cc.metrics.WorkerRegistrations.WithLabelValues("replaced").Inc()
	}

	if info.interf.ID != w.ID {
		info.cancelWatcher()
		info.interf = w
		wctx, cancel := context.WithCancel(cc.ctx)
		info.cancelWatcher = cancel
		cc.spawn(func() { cc.workerAvailabilityWatch(wctx, w, req.ProcessClass) })
	}

	done := info.reply.Done()
	cc.mu.Unlock()

	cc.logger.Info("worker re-registered",
		logging.ProcessID(pid), logging.Uint64("generation", req.Generation))
	return done
}

// workerAvailable reports whether a worker can be recruited right now.
// checkStable additionally requires the process to have settled after its
// recent reboots.
func (cc *ClusterController) workerAvailable(info *workerInfo, checkStable bool) bool {
	return cc.failmon.IsAvailable(info.interf.StorageAddress) &&
		(!checkStable || info.reboots < 2)
}

// workerAvailabilityWatch is the long-lived per-worker task. It publishes
// the worker to the journal, reacts to availability changes, and removes
// the entry once the worker definitively fails.
func (cc *ClusterController) workerAvailabilityWatch(ctx context.Context, w WorkerInterface, startingClass fitness.ProcessClass) {
	pid := w.ProcessID()

	cc.workerList.set(pid, &coordkv.ProcessData{
		Locality: w.Locality,
		Class:    startingClass,
		Address:  w.Address,
	})

	failedCh := make(chan struct{})
	go func() {
		if cc.watchWorkerFailure(ctx, w.Address) {
			close(failedCh)
		}
	}()

	lastAvailable := cc.failmon.IsAvailable(w.StorageAddress)
	for {
		stateCh := cc.failmon.StateChanged()
		select {
		case <-ctx.Done():
			return

		case <-failedCh:
			cc.mu.Lock()
			if info, ok := cc.idWorker[pid]; ok && info.interf.ID == w.ID {
				// Tell the worker to stop serving so it rejoins fresh
				info.reply.send()
				info.cancelWatcher()
				delete(cc.idWorker, pid)
				cc.metrics.SetWorkerCount(len(cc.idWorker))
				if cc.metrics != nil {
					cc.metrics.WorkerRemovals.Inc()
				}
			}
			cc.mu.Unlock()

			cc.workerList.set(pid, nil)
			cc.logger.Info("worker removed after failure", logging.ProcessID(pid))
			return

		case <-stateCh:
			available := cc.failmon.IsAvailable(w.StorageAddress)
			if available == lastAvailable {
				continue
			}
			lastAvailable = available
			if available {
				cc.spawn(func() { cc.rebootAndCheck(pid) })
				cc.checkOutstandingRequests()
			}
		}
	}
}

// watchWorkerFailure blocks until the worker stops answering its failure
// endpoint. Returns false when the watcher context is cancelled first.
func (cc *ClusterController) watchWorkerFailure(ctx context.Context, addr string) bool {
	client, err := cc.dialer.DialWorker(addr)
	if err != nil {
		return ctx.Err() == nil
	}
	defer client.Close()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, cc.cfg.WorkerFailureTime)
		err := client.WaitFailure(pingCtx)
		cancel()

		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			return true
		}
	}
}

// rebootAndCheck marks a freshly available process as unsettled for the
// shutdown window, then re-arms the better-master check once it settles.
// The worker may have been replaced or removed during the sleep, so it is
// looked up again afterwards.
func (cc *ClusterController) rebootAndCheck(pid string) {
	cc.mu.Lock()
	if info, ok := cc.idWorker[pid]; ok {
		info.reboots++
	}
	cc.mu.Unlock()

	if err := cc.sleep(cc.ctx, cc.cfg.shutdownTimeout()); err != nil {
		return
	}

	cc.mu.Lock()
	info, ok := cc.idWorker[pid]
	var settled bool
	if ok {
		info.reboots--
		settled = info.reboots < 2
	}
	cc.mu.Unlock()

	if settled {
		cc.checkOutstandingMasterRequests()
	}
}

// GetWorkers returns the worker population; FlagTesterClass restricts to
// tester-class workers.
func (cc *ClusterController) GetWorkers(req GetWorkersRequest) []WorkerDetails {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	var out []WorkerDetails
	for _, info := range cc.idWorker {
		if req.Flags&FlagTesterClass != 0 && info.processClass.Type != fitness.TesterClass {
			continue
		}
		out = append(out, WorkerDetails{Interf: info.interf, ProcessClass: info.processClass})
	}
	return out
}

// GetClientWorkers returns the client-facing interfaces of all non-tester
// workers
func (cc *ClusterController) GetClientWorkers() []WorkerInterface {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	var out []WorkerInterface
	for _, info := range cc.idWorker {
		if info.processClass.Type == fitness.TesterClass {
			continue
		}
		out = append(out, info.interf)
	}
	return out
}
