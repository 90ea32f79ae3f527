// Package jobstore persists incoming-message jobs durably and serves them
// back in processing order.
//
// A job records receipt of one encrypted group-conversation envelope that
// could not be fully processed inline. Jobs are immutable after append; the
// only later lifecycle event is removal after a terminal processing outcome.
// Jobs are ordered by (serverDeliveryTimestamp, id) ascending, with the
// store-assigned id breaking timestamp ties in append order.
//
// # Keyspace
//
// All keys live under jq/{queue}/:
//
//	meta                                 - lastID (8B BE) | pending count (8B BE)
//	job/{id}                             - versioned job record (see record.go)
//	order_idx/{serverDeliveryTs}/{id}    - processing-order index, value empty
//
// The order index makes the required ordering a plain ascending prefix scan.
//
// # Durability
//
// Every mutation commits through a single Pebble batch: an append either
// persists the row, its index entry, and the metadata update together, or
// nothing at all. Reopening a store restores lastID and the pending count
// from the meta key, so ids are never reused across restarts.
//
// # Concurrency
//
// Appends from concurrent producers serialize on the store mutex only for id
// assignment and the batch commit. Removal is idempotent. WaitForAppend gives
// the drain loop a channel-signaled wake instead of busy polling.
package jobstore
