package controller

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// journalRetryDelay spaces retries of a failed worker-list commit
const journalRetryDelay = 100 * time.Millisecond

// workerListJournal batches worker-presence deltas into the coordination
// store. At most one batch is pending at a time; the published list
// eventually reflects the live set.
type workerListJournal struct {
	store  coordkv.Store
	logger logging.Logger

	mu       sync.Mutex
	delta    map[string]*coordkv.ProcessData
	anyDelta chan struct{}
}

func newWorkerListJournal(store coordkv.Store, logger logging.Logger) *workerListJournal {
	return &workerListJournal{
		store:    store,
		logger:   logger,
		delta:    make(map[string]*coordkv.ProcessData),
		anyDelta: make(chan struct{}, 1),
	}
}

// set records a presence delta; nil data is a tombstone
func (j *workerListJournal) set(pid string, data *coordkv.ProcessData) {
	if j.store == nil {
		return
	}
	j.mu.Lock()
	j.delta[pid] = data
	j.mu.Unlock()

	select {
	case j.anyDelta <- struct{}{}:
	default:
	}
}

// run clears the worker-list keyspace, then commits pending deltas as
// batched writes. Registrations come only from workers of this cluster,
// so no other controller is writing the range.
func (j *workerListJournal) run(ctx context.Context) {
	err := coordkv.RunTransaction(ctx, j.store, func(tr coordkv.Transaction) error {
		tr.ClearRange(coordkv.WorkerListKeys())
		return tr.Commit()
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("worker list clear failed", logging.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.anyDelta:
		}

		j.mu.Lock()
		delta := j.delta
		j.delta = make(map[string]*coordkv.ProcessData)
		j.mu.Unlock()

		j.logger.Debug("updating worker list", logging.Count(len(delta)))

		err := coordkv.RunTransaction(ctx, j.store, func(tr coordkv.Transaction) error {
			for pid, data := range delta {
				if data == nil {
					tr.Clear(coordkv.WorkerListKeyFor(pid))
					continue
				}
				value, err := coordkv.EncodeWorkerListValue(*data)
				if err != nil {
					return err
				}
				tr.Set(coordkv.WorkerListKeyFor(pid), value)
			}
			return tr.Commit()
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			j.logger.Error("worker list update failed", logging.Error(err))

			// Put the unpublished batch back so the list still converges
			// to the live set; entries that arrived meanwhile are newer
			// and win
			j.mu.Lock()
			for pid, data := range delta {
				if _, ok := j.delta[pid]; !ok {
					j.delta[pid] = data
				}
			}
			j.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(journalRetryDelay):
			}
			select {
			case j.anyDelta <- struct{}{}:
			default:
			}
		}
	}
}
