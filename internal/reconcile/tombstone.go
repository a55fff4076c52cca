package reconcile

import (
	"context"
	"log/slog"

	"github.com/hearthhq/calsync/internal/logging"
)

// SweepTombstones retries the remote delete for every tombstone of the
// tenant. A tombstone older than the retention window is abandoned and
// logged; each remote delete is attempted once per sweep, the sweep's own
// period provides the backoff.
func (r *Reconciler) SweepTombstones(ctx context.Context, principal, tenantID string) error {
	tombs, err := r.store.ListTombstones(ctx, tenantID)
	if err != nil {
		return err
	}

	logger := logging.WithTenant(r.logger, tenantID)
	for _, t := range tombs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.now().Sub(t.DeletedAt) > r.cfg.TombstoneRetention {
			logger.Error("abandoning remote delete after retention window",
				logging.EventID(t.EventID),
				logging.ExternalID(t.ExternalID),
				slog.Int("attempts", t.Attempts),
			)
			if err := r.store.RemoveTombstone(ctx, tenantID, t.ExternalID); err != nil {
				return err
			}
			continue
		}

		if err := r.remote.Delete(ctx, principal, t.ExternalID); err != nil {
			t.Attempts++
			if perr := r.store.PutTombstone(ctx, t); perr != nil {
				return perr
			}
			logger.Warn("tombstone delete still failing",
				logging.ExternalID(t.ExternalID),
				slog.Int("attempts", t.Attempts),
				logging.Err(err),
			)
			continue
		}

		if err := r.store.RemoveTombstone(ctx, tenantID, t.ExternalID); err != nil {
			return err
		}
		r.metrics.RecordTombstoneSettled(ctx)
		logger.Info("tombstone settled", logging.ExternalID(t.ExternalID))
	}
	return nil
}
