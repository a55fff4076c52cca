package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/logging"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

// Push propagates one local mutation to the remote calendar. The store
// write has already committed; Push only reconciles the remote side and the
// correlation fields.
//
// On exhausted retries or an expired authorization the event is degraded to
// pending rather than dropped; the returned error carries the cause so the
// orchestrator can surface health signals, but the local write survives.
func (r *Reconciler) Push(ctx context.Context, principal string, ev event.Event, ct event.ChangeType) error {
	start := r.now()

	var err error
	switch ct {
	case event.ChangeDeleted:
		err = r.pushDelete(ctx, principal, ev)
	case event.ChangeCreated, event.ChangeUpdated:
		err = r.pushUpsert(ctx, principal, ev)
	default:
		err = fmt.Errorf("unknown change type %q", ct)
	}

	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
	}
	r.metrics.RecordSyncOperation(ctx, logging.DirectionPush, string(ct), status, r.now().Sub(start))
	return err
}

// pushUpsert creates or updates the remote copy. An event that has never
// been pushed is always a create, whatever the change type says.
func (r *Reconciler) pushUpsert(ctx context.Context, principal string, ev event.Event) error {
	if !ev.Synced() {
		logger := logging.WithOperation(logging.WithTenant(r.logger, ev.TenantID), "create")
		created, err := retryRemote(ctx, r.cfg, func() (remote.Event, error) {
			return r.remote.Create(ctx, principal, ev)
		})
		if err != nil {
			r.degradeToPending(ctx, ev, err)
			return fmt.Errorf("push create event %s: %w", ev.ID, err)
		}

		now := r.now()
		ev.ExternalID = created.ID
		ev.ExternalRevision = created.Revision
		ev.Pending = false
		ev.PushedAt = now
		ev.Touch(now)
		if err := r.store.Upsert(ctx, ev); err != nil {
			return fmt.Errorf("store correlation for event %s: %w", ev.ID, err)
		}
		// Viewers already saw the create; this publish carries the now
		// populated correlation ID.
		r.publish(ctx, ev.TenantID, event.Updated(ev))
		logger.Info("pushed event to remote",
			logging.EventID(ev.ID),
			logging.ExternalID(ev.ExternalID),
		)
		return nil
	}

	logger := logging.WithOperation(logging.WithTenant(r.logger, ev.TenantID), "update")
	revision, err := retryRemote(ctx, r.cfg, func() (string, error) {
		return r.remote.Update(ctx, principal, ev.ExternalID, ev)
	})
	if err != nil {
		r.degradeToPending(ctx, ev, err)
		return fmt.Errorf("push update event %s: %w", ev.ID, err)
	}

	now := r.now()
	ev.ExternalRevision = revision
	ev.Pending = false
	ev.PushedAt = now
	ev.Touch(now)
	if err := r.store.Upsert(ctx, ev); err != nil {
		return fmt.Errorf("store revision for event %s: %w", ev.ID, err)
	}
	logger.Debug("pushed update to remote",
		logging.EventID(ev.ID),
		logging.ExternalID(ev.ExternalID),
	)
	return nil
}

// pushDelete issues the remote delete for an event that is already gone
// locally. Local deletion is the user's authoritative intent, so a failed
// remote delete leaves a tombstone for the sweep instead of resurrecting
// the record.
func (r *Reconciler) pushDelete(ctx context.Context, principal string, ev event.Event) error {
	if !ev.Synced() {
		// Never pushed, nothing to delete remotely.
		return nil
	}

	_, err := retryRemote(ctx, r.cfg, func() (struct{}, error) {
		return struct{}{}, r.remote.Delete(ctx, principal, ev.ExternalID)
	})
	if err == nil {
		return nil
	}

	tomb := store.Tombstone{
		TenantID:   ev.TenantID,
		EventID:    ev.ID,
		ExternalID: ev.ExternalID,
		DeletedAt:  r.now(),
	}
	if terr := r.store.PutTombstone(ctx, tomb); terr != nil {
		return errors.Join(fmt.Errorf("push delete event %s: %w", ev.ID, err), terr)
	}
	r.logger.Warn("remote delete deferred to tombstone sweep",
		logging.Operation("delete"),
		logging.Tenant(ev.TenantID),
		logging.EventID(ev.ID),
		logging.ExternalID(ev.ExternalID),
		logging.Err(err),
	)
	return fmt.Errorf("push delete event %s: %w", ev.ID, err)
}

// PendingEvents lists the tenant's events whose last push degraded to
// pending and are waiting for a reattempt.
func (r *Reconciler) PendingEvents(ctx context.Context, tenantID string) ([]event.Event, error) {
	locals, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	var pending []event.Event
	for _, ev := range locals {
		if ev.Pending {
			pending = append(pending, ev)
		}
	}
	return pending, nil
}

// degradeToPending marks the stored event pending so the next pull cycle
// reattempts the push. The local write is never dropped.
func (r *Reconciler) degradeToPending(ctx context.Context, ev event.Event, cause error) {
	current, err := r.store.Get(ctx, ev.ID)
	if err != nil {
		// Deleted in the meantime; nothing to mark.
		return
	}
	if current.Pending {
		return
	}
	current.Pending = true
	current.Touch(r.now())
	if err := r.store.Upsert(ctx, current); err != nil {
		r.logger.Error("failed to mark event pending",
			logging.Tenant(ev.TenantID),
			logging.EventID(ev.ID),
			logging.Err(err),
		)
		return
	}
	r.logger.Warn("event degraded to pending",
		logging.Tenant(ev.TenantID),
		logging.EventID(ev.ID),
		logging.Status(logging.StatusPending),
		logging.Err(cause),
	)
}

func (r *Reconciler) publish(ctx context.Context, tenantID string, ch event.Change) {
	if r.pub == nil {
		return
	}
	n := r.pub.Publish(tenantID, ch)
	r.metrics.RecordBroadcast(ctx, string(ch.Type), n)
}
