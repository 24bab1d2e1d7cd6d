package controller

import (
	"context"
	"time"
)

type statusResult struct {
	reply StatusReply
	err   error
}

type statusRequest struct {
	replyCh chan statusResult
}

// Status requests the aggregated cluster status. Requests arriving close
// together are coalesced into a single fetch and all receive its result.
func (cc *ClusterController) Status(ctx context.Context) (StatusReply, error) {
	req := &statusRequest{replyCh: make(chan statusResult, 1)}
	select {
	case cc.statusCh <- req:
	case <-ctx.Done():
		return StatusReply{}, ctx.Err()
	case <-cc.ctx.Done():
		return StatusReply{}, ErrControllerStopped
	}

	select {
	case res := <-req.replyCh:
		return res.reply, res.err
	case <-ctx.Done():
		return StatusReply{}, ctx.Err()
	case <-cc.ctx.Done():
		return StatusReply{}, ErrControllerStopped
	}
}

// statusServer batches status requests under a minimum interval so status
// storms don't amplify load: one external fetch per batch, same result to
// every caller.
func (cc *ClusterController) statusServer(ctx context.Context) {
	var lastRequestTime time.Time

	for {
		var batch []*statusRequest

		select {
		case <-ctx.Done():
			return
		case req := <-cc.statusCh:
			batch = append(batch, req)
		}

		// Wait out the minimum interval; more requests queue up meanwhile
		if !lastRequestTime.IsZero() {
			earliest := lastRequestTime.Add(cc.cfg.StatusMinTimeBetweenRequests)
			if wait := earliest.Sub(cc.clock()); wait > 0 {
				if cc.sleep(ctx, wait) != nil {
					return
				}
			}
		}

		// Drain everything that is ready right now
		for {
			select {
			case req := <-cc.statusCh:
				batch = append(batch, req)
				continue
			default:
			}
			break
		}

		fetchStart := cc.clock()
		reply, err := cc.fetchStatus(ctx)
		lastRequestTime = cc.clock()
		cc.metrics.RecordStatusBatch(len(batch), lastRequestTime.Sub(fetchStart))

		for _, req := range batch {
			req.replyCh <- statusResult{reply: reply, err: err}
		}
	}
}

// fetchStatus calls the external aggregator once with a snapshot of the
// population, issue maps, and unexpired incompatible peers
func (cc *ClusterController) fetchStatus(ctx context.Context) (StatusReply, error) {
	cc.mu.Lock()
	workers := make([]WorkerDetails, 0, len(cc.idWorker))
	for _, info := range cc.idWorker {
		workers = append(workers, WorkerDetails{Interf: info.interf, ProcessClass: info.processClass})
	}
	cc.mu.Unlock()

	cc.db.mu.Lock()
	clientIssues := issuesSnapshot(cc.db.clientsWithIssues)
	workerIssues := issuesSnapshot(cc.db.workersWithIssues)
	now := cc.clock()
	var incompatible []string
	for addr, expiry := range cc.db.incompatibleConnections {
		if expiry.Before(now) {
			delete(cc.db.incompatibleConnections, addr)
			continue
		}
		incompatible = append(incompatible, addr)
	}
	cc.db.mu.Unlock()

	return cc.statusFetcher(ctx, workers, clientIssues, workerIssues, incompatible)
}
