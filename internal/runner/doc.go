// Package runner drains the job store and hands every persisted job to the
// processing collaborators exactly-once-in-effect, in the required order.
//
// A single drain coordinator pulls ordered batches, partitions them by
// processing domain (group id, or a shared default for ungrouped jobs), and
// fans out one worker per domain under a bounded worker pool. Within a domain
// jobs are applied strictly in (serverDeliveryTimestamp, id) order and job
// N+1 never starts before job N reaches a terminal outcome. Domains are
// independent: a poisoned domain never stalls its siblings.
//
// Jobs are removed only after success or a recorded permanent discard, so the
// queue delivers at-least-once across crashes. Appliers must be idempotent.
//
// A Stop request is honored at batch boundaries, never mid-job: in-flight
// jobs either finish or are left untouched in the store.
package runner
