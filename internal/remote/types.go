package remote

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/hearthhq/calsync/internal/event"
)

// Event is the remote calendar's view of an event, reduced to the fields the
// reconciler diffs on.
type Event struct {
	ID          string
	Revision    string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	AllDay      bool
	Attendees   []string
	Updated     time.Time

	// Deleted is set for events the remote reports as cancelled. Incremental
	// list responses include them so local copies can be removed.
	Deleted bool
}

// ListCursor identifies where to resume listing remote events. SyncToken is
// the opaque continuation token from a previous page; when empty, UpdatedMin
// bounds the window instead and an empty UpdatedMin requests a full sync.
type ListCursor struct {
	SyncToken  string
	PageToken  string
	UpdatedMin time.Time
}

// Page is one page of remote events plus the cursors to continue with.
// NextSyncToken is only set on the final page of a listing.
type Page struct {
	Events        []Event
	NextPageToken string
	NextSyncToken string
}

// toGoogleEvent maps a local event onto the wire shape for create/update.
func toGoogleEvent(e event.Event) *calendar.Event {
	gev := &calendar.Event{
		Summary:     e.Title,
		Description: e.Description,
	}

	if e.AllDay {
		gev.Start = &calendar.EventDateTime{Date: e.Start.Format("2006-01-02")}
		gev.End = &calendar.EventDateTime{Date: e.End.Format("2006-01-02")}
	} else {
		tz := e.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		gev.Start = &calendar.EventDateTime{
			DateTime: e.Start.Format(time.RFC3339),
			TimeZone: tz,
		}
		gev.End = &calendar.EventDateTime{
			DateTime: e.End.Format(time.RFC3339),
			TimeZone: tz,
		}
	}

	for _, member := range e.AssignedTo {
		gev.Attendees = append(gev.Attendees, &calendar.EventAttendee{Email: member})
	}

	return gev
}

// fromGoogleEvent maps a wire event into the reconciler's view.
func fromGoogleEvent(gev *calendar.Event) Event {
	if gev == nil {
		return Event{}
	}

	ev := Event{
		ID:          gev.Id,
		Revision:    gev.Etag,
		Title:       gev.Summary,
		Description: gev.Description,
		Deleted:     gev.Status == "cancelled",
	}

	if gev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, gev.Updated); err == nil {
			ev.Updated = t
		}
	}

	if gev.Start != nil {
		switch {
		case gev.Start.DateTime != "":
			if t, err := time.Parse(time.RFC3339, gev.Start.DateTime); err == nil {
				ev.Start = t
			}
			ev.TimeZone = gev.Start.TimeZone
		case gev.Start.Date != "":
			if t, err := time.Parse("2006-01-02", gev.Start.Date); err == nil {
				ev.Start = t
			}
			ev.AllDay = true
		}
	}

	if gev.End != nil {
		switch {
		case gev.End.DateTime != "":
			if t, err := time.Parse(time.RFC3339, gev.End.DateTime); err == nil {
				ev.End = t
			}
		case gev.End.Date != "":
			if t, err := time.Parse("2006-01-02", gev.End.Date); err == nil {
				ev.End = t
			}
		}
	}

	for _, att := range gev.Attendees {
		if att.Email != "" {
			ev.Attendees = append(ev.Attendees, att.Email)
		}
	}

	return ev
}
