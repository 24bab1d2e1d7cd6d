package controller

import (
	"context"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-txdb/pkg/coordkv"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
)

// monitorClientTxnInfo watches the client transaction-info knobs and
// republishes ClientDBInfo whenever either changes
func (cc *ClusterController) monitorClientTxnInfo(ctx context.Context) {
	for ctx.Err() == nil {
		var watchRate, watchLimit <-chan struct{}

		err := coordkv.RunTransaction(ctx, cc.store, func(tr coordkv.Transaction) error {
			rateVal, rateOk, err := tr.Get(coordkv.ClientTxnSampleRateKey)
			if err != nil {
				return err
			}
			limitVal, limitOk, err := tr.Get(coordkv.ClientTxnSizeLimitKey)
			if err != nil {
				return err
			}

			// The read-decide-publish cycle holds db.mu so it cannot
			// interleave with RegisterMaster's clientInfo update
			cc.db.mu.Lock()
			clientInfo := cc.db.clientInfo.Get()
			changed := false

			if rateOk {
				rate, err := coordkv.DecodeFloat64(rateVal)
				if err != nil {
					cc.logger.Warn("malformed client txn sample rate", logging.Error(err))
				} else if rate != clientInfo.ClientTxnInfoSampleRate {
					clientInfo.ClientTxnInfoSampleRate = rate
					changed = true
				}
			}
			if limitOk {
				limit, err := coordkv.DecodeInt64(limitVal)
				if err != nil {
					cc.logger.Warn("malformed client txn size limit", logging.Error(err))
				} else if limit != clientInfo.ClientTxnInfoSizeLimit {
					clientInfo.ClientTxnInfoSizeLimit = limit
					changed = true
				}
			}

			if changed {
				clientInfo.ID = uuid.NewString()
				cc.db.clientInfo.Set(clientInfo)
			}
			cc.db.mu.Unlock()

			if changed {
				if cc.metrics != nil {
					cc.metrics.ClientInfoPublishes.Inc()
					cc.metrics.ConfigReloadsTotal.WithLabelValues("client_txn_info").Inc()
				}
				cc.logger.Info("client txn info updated",
					logging.Float64("sample_rate", clientInfo.ClientTxnInfoSampleRate),
					logging.Int64("size_limit", clientInfo.ClientTxnInfoSizeLimit))
			}

			watchRate = tr.Watch(coordkv.ClientTxnSampleRateKey)
			watchLimit = tr.Watch(coordkv.ClientTxnSizeLimitKey)
			return tr.Commit()
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cc.logger.Error("client txn info reload failed", logging.Error(err))
			if cc.sleep(ctx, cc.cfg.AttemptRecruitmentDelay) != nil {
				return
			}
			continue
		}

		select {
		case <-watchRate:
		case <-watchLimit:
		case <-ctx.Done():
			return
		}
	}
}
