// Package broadcast fans change notifications out to every client session
// currently viewing a tenant.
//
// The hub keeps an explicit registry of live connections grouped by tenant
// room. Delivery to one connection never blocks on another: each connection
// owns a buffered channel and a send that cannot proceed marks the
// connection dead and removes it from the registry. The registry lock is
// independent of the event store and is never held across a network call.
package broadcast
