// Package credentials defines the boundary to the auth subsystem that owns
// per-tenant-member OAuth tokens for the remote calendar service.
//
// The sync engine never mutates credential state as a side effect of an
// unrelated call; refreshing a token is an explicit, awaited step performed
// through the Provider interface.
package credentials
