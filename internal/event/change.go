package event

import "time"

// ChangeType identifies the kind of mutation carried by a Change.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is the notification payload delivered to tenant rooms. Payloads are
// fully materialized before publish; the broadcaster never performs lookups.
type Change struct {
	Type  ChangeType `json:"type"`
	Event View       `json:"event"`
}

// View is the client-facing projection of an Event. For deletions only the
// ID is populated.
type View struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	TimeZone    string   `json:"timeZone,omitempty"`
	AllDay      bool     `json:"isAllDay,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	AssignedTo  []string `json:"assignedTo,omitempty"`
	Pending     bool     `json:"pending,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Materialize builds the full View for created/updated notifications.
func Materialize(e Event) View {
	return View{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Title:       e.Title,
		Description: e.Description,
		Start:       formatTime(e.Start),
		End:         formatTime(e.End),
		TimeZone:    e.TimeZone,
		AllDay:      e.AllDay,
		ExternalID:  e.ExternalID,
		AssignedTo:  e.AssignedTo,
		Pending:     e.Pending,
		UpdatedAt:   formatTime(e.UpdatedAt),
	}
}

// Created builds a Change announcing a new event.
func Created(e Event) Change {
	return Change{Type: ChangeCreated, Event: Materialize(e)}
}

// Updated builds a Change announcing a modified event.
func Updated(e Event) Change {
	return Change{Type: ChangeUpdated, Event: Materialize(e)}
}

// Deleted builds a Change announcing a removed event. Only the ID is sent.
func Deleted(id string) Change {
	return Change{Type: ChangeDeleted, Event: View{ID: id}}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
