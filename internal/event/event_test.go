package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	ev := New("fam-1", "Dentist", start, end)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "fam-1", ev.TenantID)
	assert.Equal(t, "Dentist", ev.Title)
	assert.False(t, ev.UpdatedAt.IsZero())
	assert.False(t, ev.Synced())
	require.NoError(t, ev.Validate())
}

func TestValidate(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	valid := New("fam-1", "Dentist", start, start.Add(time.Hour))

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{
			name:   "valid event",
			mutate: func(*Event) {},
		},
		{
			name:    "missing tenant",
			mutate:  func(e *Event) { e.TenantID = "" },
			wantErr: true,
		},
		{
			name:    "missing title",
			mutate:  func(e *Event) { e.Title = "" },
			wantErr: true,
		},
		{
			name:    "missing start",
			mutate:  func(e *Event) { e.Start = time.Time{} },
			wantErr: true,
		},
		{
			name:    "end before start",
			mutate:  func(e *Event) { e.End = e.Start.Add(-time.Minute) },
			wantErr: true,
		},
		{
			name:   "end equals start",
			mutate: func(e *Event) { e.End = e.Start },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTouchStrictlyIncreases(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ev := New("fam-1", "Dentist", now, now.Add(time.Hour))
	ev.UpdatedAt = now

	// Touching with the same instant must still advance the timestamp.
	ev.Touch(now)
	first := ev.UpdatedAt
	assert.True(t, first.After(now))

	ev.Touch(now)
	assert.True(t, ev.UpdatedAt.After(first))

	later := now.Add(time.Minute)
	ev.Touch(later)
	assert.Equal(t, later, ev.UpdatedAt)
}

func TestSynced(t *testing.T) {
	ev := New("fam-1", "Dentist", time.Now(), time.Now().Add(time.Hour))
	assert.False(t, ev.Synced())

	ev.ExternalID = "ext-123"
	assert.True(t, ev.Synced())
}
