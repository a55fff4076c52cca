package remote

import (
	"context"

	"github.com/hearthhq/calsync/internal/event"
)

// Client is the contract the reconciler programs against. Implementations
// operate on one principal's primary calendar per call.
type Client interface {
	// List returns one page of remote events starting at cur. It returns
	// ErrExpiredCursor (wrapped) when cur.SyncToken is no longer valid and
	// the caller must fall back to a full listing.
	List(ctx context.Context, principal string, cur ListCursor) (Page, error)

	// Create inserts the event and returns the remote copy, including the
	// assigned remote ID and revision.
	Create(ctx context.Context, principal string, e event.Event) (Event, error)

	// Update replaces the remote event identified by remoteID and returns
	// the new remote revision.
	Update(ctx context.Context, principal, remoteID string, e event.Event) (string, error)

	// Delete removes the remote event. Deleting an event that is already
	// gone is not an error.
	Delete(ctx context.Context, principal, remoteID string) error
}
