// Package orchestrator schedules reconciler runs and serializes them per
// tenant.
//
// Each tenant carries a sync cursor and a latch: at most one pull runs at a
// time, and a pull excludes that tenant's pushes from the event store's
// critical sections while pushes for the same tenant run concurrently with
// each other. Different tenants never contend on a shared lock.
//
// Pulls are triggered by a timer, by an inbound webhook, or re-queued after
// a conflict; three consecutive whole-run failures suspend a tenant's pull
// schedule with exponential backoff and surface a health signal.
package orchestrator
