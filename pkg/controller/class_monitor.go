package controller

import (
	"bytes"
	"context"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// monitorProcessClasses reconciles operator class overrides from the
// coordination store: migrate the legacy key format once, then reload the
// override map whenever the change key is bumped, re-resolving every
// worker's effective class under the source-priority rule.
func (cc *ClusterController) monitorProcessClasses(ctx context.Context) {
	err := coordkv.RunTransaction(ctx, cc.store, func(tr coordkv.Transaction) error {
		_, present, err := tr.Get(coordkv.ProcessClassVersionKey)
		if err != nil {
			return err
		}
		if present {
			return tr.Commit()
		}

		// Legacy rows move to the new key format together with the
		// version marker, in one transaction
		oldRows, err := tr.GetRange(coordkv.ProcessClassOldKeys())
		if err != nil {
			return err
		}
		tr.ClearRange(coordkv.ProcessClassOldKeys())
		for _, row := range oldRows {
			pid, err := coordkv.DecodeProcessClassKeyOld(row.Key)
			if err != nil {
				return err
			}
			tr.Set(coordkv.ProcessClassKeyFor(pid), row.Value)
		}
		tr.Set(coordkv.ProcessClassVersionKey, []byte(coordkv.ProcessClassVersionValue))
		if err := tr.Commit(); err != nil {
			return err
		}
		cc.logger.Info("process class schema migrated", logging.Count(len(oldRows)))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cc.logger.Error("process class migration failed", logging.Error(err))
	}

	for ctx.Err() == nil {
		var watch <-chan struct{}
		var changed bool

		err := coordkv.RunTransaction(ctx, cc.store, func(tr coordkv.Transaction) error {
			rows, err := tr.GetRange(coordkv.ProcessClassKeys())
			if err != nil {
				return err
			}
			changed = cc.applyProcessClasses(rows)
			watch = tr.Watch(coordkv.ProcessClassChangeKey)
			return tr.Commit()
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cc.logger.Error("process class reload failed", logging.Error(err))
			if cc.sleep(ctx, cc.cfg.AttemptRecruitmentDelay) != nil {
				return
			}
			continue
		}

		if changed {
			if cc.metrics != nil {
				cc.metrics.ConfigReloadsTotal.WithLabelValues("process_class").Inc()
			}
			cc.checkOutstandingRequests()
		}

		select {
		case <-watch:
		case <-ctx.Done():
			return
		}
	}
}

// applyProcessClasses rebuilds the override map and re-resolves every
// worker's effective class. Returns whether anything changed since the
// last application.
func (cc *ClusterController) applyProcessClasses(rows []coordkv.KeyValue) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.gotProcessClasses && rowsEqual(rows, cc.lastProcessClasses) {
		return false
	}

	cc.idClass = make(map[string]fitness.ProcessClass, len(rows))
	for _, row := range rows {
		pid, err := coordkv.DecodeProcessClassKey(row.Key)
		if err != nil {
			cc.logger.Warn("skipping malformed process class row", logging.Error(err))
			continue
		}
		class, err := coordkv.DecodeProcessClassValue(row.Value)
		if err != nil {
			cc.logger.Warn("skipping malformed process class row", logging.Error(err))
			continue
		}
		if class.Source == fitness.CommandLineSource {
			// A DB row cannot claim command-line authority
			cc.logger.Warn("rejecting process class row with command-line source",
				logging.ProcessID(pid))
			continue
		}
		cc.idClass[pid] = class
	}

	for pid, info := range cc.idWorker {
		if class, ok := cc.idClass[pid]; ok &&
			(class.Source == fitness.DBSource || info.initialClass.Type == fitness.UnsetClass) {
			info.processClass = class
		} else {
			info.processClass = info.initialClass
		}
	}

	cc.lastProcessClasses = rows
	cc.gotProcessClasses = true
	cc.logger.Info("process classes loaded", logging.Count(len(cc.idClass)))
	return true
}

func rowsEqual(a, b []coordkv.KeyValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !bytes.Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
