package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearthhq/calsync/internal/broadcast"
	"github.com/hearthhq/calsync/internal/orchestrator"
)

const (
	// DefaultAddr is the default listen address for the client-facing
	// server.
	DefaultAddr = ":8080"

	// DefaultReadHeaderTimeout bounds how long a client may take to send
	// request headers. The SSE stream itself has no write deadline.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds the client-facing server's configuration.
type Config struct {
	// Addr is the address to bind to (e.g. ":8080").
	Addr string

	// JWTSecret is the HMAC key subscription tokens are verified against.
	JWTSecret []byte

	// WebhookToken, when set, must match the X-Goog-Channel-Token header of
	// inbound calendar notifications.
	WebhookToken string
}

// Server is the client-facing HTTP server: SSE subscriptions, the calendar
// webhook, and health probes.
type Server struct {
	cfg    Config
	hub    *broadcast.Hub
	orch   *orchestrator.Orchestrator
	logger *slog.Logger

	ready      atomic.Bool
	startTime  time.Time
	httpServer *http.Server
}

// NewServer wires the HTTP surface over the hub and the orchestrator.
func NewServer(cfg Config, hub *broadcast.Hub, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		orch:      orch,
		logger:    logger,
		startTime: time.Now(),
	}
	s.ready.Store(true)
	return s, nil
}

// SetReady sets the readiness state reported by /readyz.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)

	r.Post("/hooks/calendar/{tenantID}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/v1/tenants/{tenantID}/events/stream", s.handleStream)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called. Call in a
// goroutine for non-blocking operation.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	s.logger.Info("starting realtime server", slog.String("addr", s.cfg.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. Open SSE streams are closed by the
// shutdown deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down realtime server")
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is the JSON body of the probe endpoints.
type healthResponse struct {
	Status  string                      `json:"status"`
	Uptime  string                      `json:"uptime,omitempty"`
	Tenants []orchestrator.TenantHealth `json:"tenants,omitempty"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleReadiness reports readiness plus the per-tenant sync state so
// operators can see suspended or revoked tenants at a glance.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if s.orch != nil {
		resp.Tenants = s.orch.Health()
	}
	code := http.StatusOK
	if !s.ready.Load() {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
