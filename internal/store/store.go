package store

import (
	"context"
	"errors"
	"time"

	"github.com/hearthhq/calsync/internal/event"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("event not found")

// ErrInconsistency is returned when a write would violate a store
// invariant, such as a duplicate (tenantID, externalID) pair. It signals a
// defect in the caller, not a condition to tolerate.
var ErrInconsistency = errors.New("store inconsistency")

// Tombstone records a local deletion whose remote deletion has not been
// confirmed yet. The sweep retries the remote delete until it succeeds or
// the retention window expires.
type Tombstone struct {
	TenantID   string
	EventID    string
	ExternalID string
	DeletedAt  time.Time
	Attempts   int
}

// Store is the contract for the local event repository. All operations are
// scoped by tenant; a cross-tenant write is a programming error surfaced as
// ErrInconsistency.
type Store interface {
	Get(ctx context.Context, id string) (event.Event, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (event.Event, error)
	ListByTenant(ctx context.Context, tenantID string) ([]event.Event, error)

	// Upsert creates or replaces the record keyed by its internal ID.
	Upsert(ctx context.Context, e event.Event) error

	// Delete removes the record and returns it, so the caller can record a
	// tombstone for synced events.
	Delete(ctx context.Context, id string) (event.Event, error)

	PutTombstone(ctx context.Context, t Tombstone) error
	ListTombstones(ctx context.Context, tenantID string) ([]Tombstone, error)
	RemoveTombstone(ctx context.Context, tenantID, externalID string) error
}
