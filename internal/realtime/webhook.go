package realtime

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearthhq/calsync/internal/logging"
	"github.com/hearthhq/calsync/internal/orchestrator"
)

// handleWebhook receives a calendar push notification and schedules a pull
// for the tenant. The notification body is ignored: it only says that
// something changed, the pull discovers what.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if s.cfg.WebhookToken != "" &&
		r.Header.Get("X-Goog-Channel-Token") != s.cfg.WebhookToken {
		writeError(w, http.StatusForbidden, "invalid channel token")
		return
	}

	// The initial sync message confirms channel setup; nothing changed yet.
	if r.Header.Get("X-Goog-Resource-State") == "sync" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.orch.TriggerPull(tenantID); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownTenant) {
			writeError(w, http.StatusNotFound, "unknown tenant")
			return
		}
		s.logger.Warn("webhook pull trigger failed",
			logging.Tenant(tenantID),
			logging.Err(err),
		)
		writeError(w, http.StatusServiceUnavailable, "pull not scheduled")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
