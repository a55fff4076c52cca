package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hearthhq/calsync/internal/event"
)

// Memory is an in-process Store implementation. It is the only mutable
// state shared by the push and pull paths; callers serialize per-tenant
// access through the orchestrator, the internal mutex only protects the
// maps themselves.
type Memory struct {
	mu         sync.RWMutex
	events     map[string]event.Event
	byTenant   map[string]map[string]struct{}
	byExternal map[string]map[string]string // tenantID -> externalID -> eventID
	tombstones map[string]map[string]Tombstone
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:     make(map[string]event.Event),
		byTenant:   make(map[string]map[string]struct{}),
		byExternal: make(map[string]map[string]string),
		tombstones: make(map[string]map[string]Tombstone),
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id string) (event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return event.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// GetByExternalID implements Store.
func (m *Memory) GetByExternalID(_ context.Context, tenantID, externalID string) (event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExternal[tenantID][externalID]
	if !ok {
		return event.Event{}, fmt.Errorf("tenant %s external %s: %w", tenantID, externalID, ErrNotFound)
	}
	return m.events[id], nil
}

// ListByTenant implements Store. Events are returned ordered by start time
// for stable iteration.
func (m *Memory) ListByTenant(_ context.Context, tenantID string) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byTenant[tenantID]
	out := make([]event.Event, 0, len(ids))
	for id := range ids {
		out = append(out, m.events[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// Upsert implements Store. It enforces the sparse unique
// (tenantID, externalID) index and the immutability of TenantID.
func (m *Memory) Upsert(_ context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.events[e.ID]; ok {
		if prev.TenantID != e.TenantID {
			return fmt.Errorf("event %s: tenant changed from %s to %s: %w",
				e.ID, prev.TenantID, e.TenantID, ErrInconsistency)
		}
		if e.UpdatedAt.Before(prev.UpdatedAt) {
			return fmt.Errorf("event %s: updatedAt moved backwards: %w", e.ID, ErrInconsistency)
		}
		// Re-pointing the external index requires the old entry to go first.
		if prev.ExternalID != "" && prev.ExternalID != e.ExternalID {
			delete(m.byExternal[prev.TenantID], prev.ExternalID)
		}
	}

	if e.ExternalID != "" {
		if existing, ok := m.byExternal[e.TenantID][e.ExternalID]; ok && existing != e.ID {
			return fmt.Errorf("tenant %s external %s already mapped to event %s: %w",
				e.TenantID, e.ExternalID, existing, ErrInconsistency)
		}
	}

	m.events[e.ID] = e
	if m.byTenant[e.TenantID] == nil {
		m.byTenant[e.TenantID] = make(map[string]struct{})
	}
	m.byTenant[e.TenantID][e.ID] = struct{}{}
	if e.ExternalID != "" {
		if m.byExternal[e.TenantID] == nil {
			m.byExternal[e.TenantID] = make(map[string]string)
		}
		m.byExternal[e.TenantID][e.ExternalID] = e.ID
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, id string) (event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return event.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	delete(m.events, id)
	delete(m.byTenant[e.TenantID], id)
	if e.ExternalID != "" {
		delete(m.byExternal[e.TenantID], e.ExternalID)
	}
	return e, nil
}

// PutTombstone implements Store.
func (m *Memory) PutTombstone(_ context.Context, t Tombstone) error {
	if t.TenantID == "" || t.ExternalID == "" {
		return fmt.Errorf("tombstone needs tenant and external ID: %w", ErrInconsistency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tombstones[t.TenantID] == nil {
		m.tombstones[t.TenantID] = make(map[string]Tombstone)
	}
	m.tombstones[t.TenantID][t.ExternalID] = t
	return nil
}

// ListTombstones implements Store.
func (m *Memory) ListTombstones(_ context.Context, tenantID string) ([]Tombstone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tombstone, 0, len(m.tombstones[tenantID]))
	for _, t := range m.tombstones[tenantID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(out[j].DeletedAt) })
	return out, nil
}

// RemoveTombstone implements Store.
func (m *Memory) RemoveTombstone(_ context.Context, tenantID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tombstones[tenantID], externalID)
	return nil
}
