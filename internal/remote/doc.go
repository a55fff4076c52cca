// Package remote is a thin typed wrapper around the remote calendar API
// (Google Calendar v3) for one authenticated principal.
//
// The wrapper is stateless and side-effect-free beyond the single call: it
// classifies failures into the sync engine's error taxonomy and performs
// exactly one transparent token refresh on an authorization failure, but it
// never retries network errors itself. Retry policy belongs to the
// reconciler.
package remote
