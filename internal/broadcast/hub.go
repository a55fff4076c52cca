package broadcast

import (
	"log/slog"
	"sync"

	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/logging"
)

// connection is one registry entry: a tenant-scoped send channel owned by
// the hub for the lifetime of the underlying transport session.
type connection struct {
	id       string
	tenantID string
	send     chan<- event.Change
}

// Hub maintains tenant rooms and publishes changes to their members.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*connection // tenantID -> connectionID -> conn
	byConn  map[string]*connection
	logger  *slog.Logger
	onJoin  func(tenantID string)
	onLeave func(tenantID string)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithConnectionHooks registers callbacks invoked after a connection joins
// or leaves a room. Used to keep the active-connection gauge current.
func WithConnectionHooks(onJoin, onLeave func(tenantID string)) Option {
	return func(h *Hub) {
		h.onJoin = onJoin
		h.onLeave = onLeave
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[string]*connection),
		byConn: make(map[string]*connection),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers a connection in the tenant's room. The send channel is
// owned by the hub until Leave; the caller must keep draining it.
func (h *Hub) Join(tenantID, connectionID string, send chan<- event.Change) {
	h.mu.Lock()
	if h.rooms[tenantID] == nil {
		h.rooms[tenantID] = make(map[string]*connection)
	}
	c := &connection{id: connectionID, tenantID: tenantID, send: send}
	h.rooms[tenantID][connectionID] = c
	h.byConn[connectionID] = c
	h.mu.Unlock()

	h.logger.Debug("connection joined room",
		logging.Tenant(tenantID),
		slog.String("connection", connectionID),
	)
	if h.onJoin != nil {
		h.onJoin(tenantID)
	}
}

// Leave removes a connection from its room. Leaving twice is harmless.
func (h *Hub) Leave(connectionID string) {
	h.mu.Lock()
	c, ok := h.byConn[connectionID]
	if ok {
		delete(h.byConn, connectionID)
		delete(h.rooms[c.tenantID], connectionID)
		if len(h.rooms[c.tenantID]) == 0 {
			delete(h.rooms, c.tenantID)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	h.logger.Debug("connection left room",
		logging.Tenant(c.tenantID),
		slog.String("connection", connectionID),
	)
	if h.onLeave != nil {
		h.onLeave(c.tenantID)
	}
}

// Publish delivers ch to every connection in the tenant's room. A
// connection whose channel cannot accept the change is treated as dead and
// removed. Returns the number of connections the change was delivered to.
func (h *Hub) Publish(tenantID string, ch event.Change) int {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.rooms[tenantID]))
	for _, c := range h.rooms[tenantID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []string
	for _, c := range conns {
		select {
		case c.send <- ch:
			delivered++
		default:
			// Receiver stopped draining: closed transport or stalled
			// client. Drop it rather than block the room.
			dead = append(dead, c.id)
		}
	}

	for _, id := range dead {
		h.logger.Warn("dropping unresponsive connection",
			logging.Tenant(tenantID),
			slog.String("connection", id),
		)
		h.Leave(id)
	}
	return delivered
}

// RoomSize returns the number of connections currently joined to a tenant's
// room.
func (h *Hub) RoomSize(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}
