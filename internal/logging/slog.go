package logging

import (
	"fmt"
	"log/slog"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation  = "operation"
	KeyTenant     = "tenant"
	KeyPrincipal  = "principal"
	KeyEventID    = "event_id"
	KeyExternalID = "external_id"
	KeyDirection  = "direction"
	KeyPage       = "page"
	KeyDuration   = "duration"
	KeyStatus     = "status"
	KeyError      = "error"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPending = "pending"
	StatusSkipped = "skipped"
)

// Sync direction values.
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTenant returns a logger with the tenant attribute set.
func WithTenant(logger *slog.Logger, tenantID string) *slog.Logger {
	return logger.With(slog.String(KeyTenant, tenantID))
}

// WithDirection returns a logger with the sync direction attribute set.
func WithDirection(logger *slog.Logger, direction string) *slog.Logger {
	return logger.With(slog.String(KeyDirection, direction))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Tenant returns a slog attribute for the tenant ID.
func Tenant(tenantID string) slog.Attr {
	return slog.String(KeyTenant, tenantID)
}

// Principal returns a slog attribute for the remote-calendar principal.
func Principal(principal string) slog.Attr {
	return slog.String(KeyPrincipal, principal)
}

// EventID returns a slog attribute for the internal event ID.
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// ExternalID returns a slog attribute for the remote correlation key.
func ExternalID(id string) slog.Attr {
	return slog.String(KeyExternalID, id)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from
// output. This allows safely passing Err(maybeNilErr) without adding empty
// attributes.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
