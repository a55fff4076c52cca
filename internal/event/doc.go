// Package event defines the canonical scheduling record shared by the sync
// engine, the fan-out broadcaster and the realtime surface.
//
// An Event is owned by exactly one tenant (family). When it has been pushed
// to the remote calendar it carries the remote identifier in ExternalID and
// the remote revision token in ExternalRevision; an Event without an
// ExternalID has never been successfully pushed and is pending sync.
package event
