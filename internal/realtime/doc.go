// Package realtime exposes the sync engine over HTTP: an SSE stream that
// delivers per-tenant change notifications, a webhook that triggers pull
// reconciles, and health endpoints for Kubernetes probes.
//
// Stream subscriptions are authenticated with a signed JWT whose claims
// carry the member's tenant; a member can only join their own tenant's
// room. Prometheus metrics are served on a dedicated port to keep
// operational data off the client-facing listener.
package realtime
