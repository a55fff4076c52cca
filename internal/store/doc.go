// Package store holds the authoritative local repository of Event records.
//
// Records are keyed by internal ID with a sparse unique index on
// (tenantID, externalID). A write that would violate that index is a defect
// and is rejected, never silently merged. The store also keeps tombstones
// for locally deleted events whose remote deletion has not been confirmed.
package store
