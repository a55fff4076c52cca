// Package reconcile implements the two-way sync algorithm between the local
// event store and the remote calendar.
//
// Push propagates a local mutation to the remote side with bounded
// exponential backoff; exhausted retries degrade the event to pending
// instead of dropping the write. Pull diffs a window of remote events
// against the store page by page, applying inserts, updates and deletes
// locally. The one conflict rule is last-writer-wins by local intent: a
// local edit that raced the pull wins and is re-queued for push.
//
// Both directions run under the orchestrator's per-tenant latch; the
// reconciler itself holds no locks across remote calls.
package reconcile
