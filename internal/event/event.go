package event

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate is the shared validator instance. validator.Validate is safe for
// concurrent use and caches struct metadata, so a single instance is reused.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is the canonical scheduling record.
type Event struct {
	// ID is the internal identifier. Immutable, unique, generated on creation.
	ID string `json:"id" validate:"required"`

	// TenantID is the owning family. Immutable after creation.
	TenantID string `json:"tenantId" validate:"required"`

	Title       string `json:"title" validate:"required,max=512"`
	Description string `json:"description,omitempty" validate:"max=8192"`

	// Start and End are the event boundaries. For all-day events they
	// represent day boundaries rather than instants.
	Start    time.Time `json:"start" validate:"required"`
	End      time.Time `json:"end" validate:"required"`
	TimeZone string    `json:"timeZone,omitempty"`
	AllDay   bool      `json:"isAllDay"`

	// ExternalID correlates this record with the remote calendar's event
	// identifier. Empty until the first successful push. Unique per tenant
	// when set.
	ExternalID string `json:"externalId,omitempty"`

	// ExternalRevision is the remote-side version token (etag-like) of the
	// last state this record was synced against.
	ExternalRevision string `json:"externalRevision,omitempty"`

	// AssignedTo holds tenant-member references. Order is irrelevant.
	AssignedTo []string `json:"assignedTo,omitempty"`

	// Pending marks an event whose latest local state has not been
	// acknowledged by the remote side. Cleared on successful push.
	Pending bool `json:"pending,omitempty"`

	// UpdatedAt is the last-write timestamp. Strictly increases on every
	// accepted mutation, local or remote-applied.
	UpdatedAt time.Time `json:"updatedAt"`

	// PushedAt is the time of the last successful push for this record.
	// Used by the conflict rule to decide whether a local edit raced a pull.
	PushedAt time.Time `json:"pushedAt,omitempty"`
}

// New creates an Event for a tenant with a fresh internal ID.
func New(tenantID, title string, start, end time.Time) Event {
	now := time.Now().UTC()
	return Event{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     title,
		Start:     start,
		End:       end,
		UpdatedAt: now,
	}
}

// Validate checks structural constraints and the start<=end invariant.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("invalid event %s: end %s before start %s", e.ID, e.End, e.Start)
	}
	return nil
}

// Touch advances UpdatedAt to now, keeping it strictly increasing even when
// two mutations land within the clock's resolution.
func (e *Event) Touch(now time.Time) {
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Nanosecond)
	}
	e.UpdatedAt = now
}

// Synced reports whether the event has ever been pushed to the remote side.
func (e Event) Synced() bool {
	return e.ExternalID != ""
}
