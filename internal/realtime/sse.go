package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/logging"
)

const (
	// sendBuffer is the per-connection channel depth. A client that falls
	// this far behind is dropped by the hub.
	sendBuffer = 16

	// heartbeatInterval is how often an SSE comment is written to keep
	// intermediaries from closing an idle stream.
	heartbeatInterval = 25 * time.Second
)

// handleStream subscribes the member to their tenant's room and streams
// change notifications as server-sent events until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if claims.TenantID != tenantID {
		writeError(w, http.StatusForbidden, "token is scoped to another tenant")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The hub's connection hooks keep the active-connection gauge current.
	connID := uuid.NewString()
	send := make(chan event.Change, sendBuffer)
	s.hub.Join(tenantID, connID, send)
	defer s.hub.Leave(connID)

	logger := logging.WithTenant(s.logger, tenantID)
	logger.Info("stream opened",
		logging.Principal(claims.MemberID),
		slog.String("connection", connID),
	)
	defer logger.Info("stream closed", slog.String("connection", connID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ch := <-send:
			if err := writeSSE(w, ch); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE encodes one change as an SSE frame. The event name is the change
// type so clients can addEventListener per kind.
func writeSSE(w http.ResponseWriter, ch event.Change) error {
	data, err := json.Marshal(ch.Event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ch.Type, data)
	return err
}
