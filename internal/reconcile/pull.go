package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/logging"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

// PullResult reports what one pull run accomplished and where to resume.
type PullResult struct {
	// SyncToken is the continuation token for the next incremental pull.
	// Only set when the listing reached its final page.
	SyncToken string

	// HighWater is the cursor value the tenant's lastPulledAt may advance
	// to. Set only when the listing reached its final page; a run that
	// stopped early leaves it zero so unseen pages are re-fetched next time.
	HighWater time.Time

	// Applied counts remote deltas applied locally.
	Applied int

	// Skipped counts per-event application failures that were logged and
	// skipped without aborting the page.
	Skipped int

	// Requeue holds events whose local edit won the conflict rule and must
	// be pushed back out by the caller.
	Requeue []event.Event
}

// Pull fetches remote events since cur and applies them to the local store
// page by page. The cursor only advances past a page once every delta on it
// has been applied or deliberately skipped, so a failure mid-listing
// re-delivers that page on retry; application is idempotent via the
// (tenantID, externalID) lookup.
//
// budget bounds the run's wall clock. When exceeded, the run stops
// cooperatively at the next page boundary: in-progress per-event writes
// complete, no further pages are fetched.
func (r *Reconciler) Pull(ctx context.Context, principal, tenantID string, cur remote.ListCursor, budget time.Duration) (PullResult, error) {
	start := r.now()
	logger := logging.WithDirection(logging.WithTenant(r.logger, tenantID), logging.DirectionPull)

	var deadline time.Time
	if budget > 0 {
		deadline = start.Add(budget)
	}

	res := PullResult{}
	page := 0
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !deadline.IsZero() && r.now().After(deadline) {
			logger.Warn("pull budget exceeded, stopping at page boundary",
				slog.Int(logging.KeyPage, page),
			)
			break
		}

		pg, err := r.remote.List(ctx, principal, cur)
		if err != nil {
			if errors.Is(err, remote.ErrExpiredCursor) {
				return res, err
			}
			r.metrics.RecordPullPage(ctx, logging.StatusError)
			return res, fmt.Errorf("list remote events: %w", err)
		}

		for _, rev := range pg.Events {
			requeue, err := r.applyRemote(ctx, tenantID, rev)
			if err != nil {
				// A single bad delta must not poison the rest of the page.
				res.Skipped++
				logger.Error("skipping remote event",
					logging.ExternalID(rev.ID),
					logging.Status(logging.StatusSkipped),
					logging.Err(err),
				)
				continue
			}
			if requeue != nil {
				res.Requeue = append(res.Requeue, *requeue)
			} else {
				res.Applied++
			}
		}
		r.metrics.RecordPullPage(ctx, logging.StatusSuccess)

		page++
		if pg.NextSyncToken != "" {
			res.SyncToken = pg.NextSyncToken
		}
		if pg.NextPageToken == "" {
			res.HighWater = start
			break
		}
		cur.PageToken = pg.NextPageToken
	}

	r.metrics.RecordSyncOperation(ctx, logging.DirectionPull, "pull", logging.StatusSuccess, r.now().Sub(start))
	logger.Info("pull completed",
		slog.Int("applied", res.Applied),
		slog.Int("skipped", res.Skipped),
		slog.Int("requeued", len(res.Requeue)),
	)
	return res, nil
}

// FullSync lists the entire remote window and additionally deletes local
// events whose remote counterpart has vanished. It is the only path that
// confirms remote deletions for events missed by incremental pulls, and the
// recovery path after an expired sync token.
func (r *Reconciler) FullSync(ctx context.Context, principal, tenantID string) (PullResult, error) {
	start := r.now()
	logger := logging.WithDirection(logging.WithTenant(r.logger, tenantID), logging.DirectionPull)

	res := PullResult{}
	seen := make(map[string]struct{})

	cur := remote.ListCursor{}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pg, err := r.remote.List(ctx, principal, cur)
		if err != nil {
			return res, fmt.Errorf("full sync list: %w", err)
		}
		for _, rev := range pg.Events {
			if !rev.Deleted {
				seen[rev.ID] = struct{}{}
			}
			requeue, err := r.applyRemote(ctx, tenantID, rev)
			if err != nil {
				res.Skipped++
				logger.Error("skipping remote event",
					logging.ExternalID(rev.ID),
					logging.Err(err),
				)
				continue
			}
			if requeue != nil {
				res.Requeue = append(res.Requeue, *requeue)
			} else {
				res.Applied++
			}
		}
		if pg.NextSyncToken != "" {
			res.SyncToken = pg.NextSyncToken
		}
		if pg.NextPageToken == "" {
			break
		}
		cur.PageToken = pg.NextPageToken
	}
	res.HighWater = start

	// The listing is complete, so any synced local event missing from it is
	// confirmed deleted on the remote side.
	locals, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return res, fmt.Errorf("full sync local listing: %w", err)
	}
	for _, ev := range locals {
		if !ev.Synced() {
			continue
		}
		if _, ok := seen[ev.ExternalID]; ok {
			continue
		}
		if _, err := r.store.Delete(ctx, ev.ID); err != nil {
			res.Skipped++
			logger.Error("failed to delete vanished event",
				logging.EventID(ev.ID),
				logging.Err(err),
			)
			continue
		}
		res.Applied++
		r.publish(ctx, tenantID, event.Deleted(ev.ID))
		logger.Info("deleted event vanished from remote",
			logging.EventID(ev.ID),
			logging.ExternalID(ev.ExternalID),
		)
	}

	return res, nil
}

// applyRemote applies one remote delta. The returned event, when non-nil,
// is a local record that won the conflict rule and needs a re-push.
func (r *Reconciler) applyRemote(ctx context.Context, tenantID string, rev remote.Event) (*event.Event, error) {
	if rev.ID == "" {
		return nil, fmt.Errorf("remote event without ID")
	}

	if rev.Deleted {
		return nil, r.applyRemoteDelete(ctx, tenantID, rev)
	}

	local, err := r.store.GetByExternalID(ctx, tenantID, rev.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, r.applyRemoteCreate(ctx, tenantID, rev)
	case err != nil:
		return nil, err
	}

	if local.ExternalRevision == rev.Revision {
		// Same revision as last sync: nothing changed, or this page is an
		// at-least-once redelivery.
		return nil, nil
	}

	// Conflict rule: a local edit newer than the last successful push means
	// the user edited here while the remote copy went stale. Local intent
	// wins; the caller re-queues a push.
	if local.UpdatedAt.After(local.PushedAt) {
		r.metrics.RecordConflict(ctx, tenantID)
		r.logger.Info("local edit wins over remote change",
			logging.Tenant(tenantID),
			logging.EventID(local.ID),
			logging.ExternalID(rev.ID),
		)
		return &local, nil
	}

	now := r.now()
	local.Title = rev.Title
	local.Description = rev.Description
	local.Start = rev.Start
	local.End = rev.End
	local.TimeZone = rev.TimeZone
	local.AllDay = rev.AllDay
	if len(rev.Attendees) > 0 {
		local.AssignedTo = rev.Attendees
	}
	local.ExternalRevision = rev.Revision
	local.Pending = false
	local.PushedAt = now
	local.Touch(now)

	if err := r.store.Upsert(ctx, local); err != nil {
		return nil, fmt.Errorf("apply remote update: %w", err)
	}
	r.publish(ctx, tenantID, event.Updated(local))
	return nil, nil
}

func (r *Reconciler) applyRemoteCreate(ctx context.Context, tenantID string, rev remote.Event) error {
	now := r.now()
	ev := event.Event{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Title:            rev.Title,
		Description:      rev.Description,
		Start:            rev.Start,
		End:              rev.End,
		TimeZone:         rev.TimeZone,
		AllDay:           rev.AllDay,
		AssignedTo:       rev.Attendees,
		ExternalID:       rev.ID,
		ExternalRevision: rev.Revision,
		PushedAt:         now,
		UpdatedAt:        now,
	}
	if ev.Title == "" {
		ev.Title = "(untitled)"
	}
	if err := r.store.Upsert(ctx, ev); err != nil {
		return fmt.Errorf("apply remote create: %w", err)
	}
	r.publish(ctx, tenantID, event.Created(ev))
	return nil
}

func (r *Reconciler) applyRemoteDelete(ctx context.Context, tenantID string, rev remote.Event) error {
	local, err := r.store.GetByExternalID(ctx, tenantID, rev.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Never seen locally, or already removed. Either way the remote
		// confirmed the deletion, so any tombstone is settled.
		return r.store.RemoveTombstone(ctx, tenantID, rev.ID)
	}
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(ctx, local.ID); err != nil {
		return fmt.Errorf("apply remote delete: %w", err)
	}
	r.publish(ctx, tenantID, event.Deleted(local.ID))
	return nil
}
