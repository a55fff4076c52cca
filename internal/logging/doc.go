// Package logging provides structured logging helpers built on log/slog.
//
// It defines the canonical attribute keys used across the sync engine so
// that log lines from the reconciler, the broadcaster and the orchestrator
// can be correlated by tenant, event and sync direction.
package logging
