// Package scheduler owns the ordered pending queue and the slot pool.
//
// Entries are ordered by (priority, enqueuedAt, seq); lower priority values
// are more urgent. NextEligible hands the head to a free slot and flips the
// job to processing in the store inside the same critical section, so two
// slot loops never receive the same job. Reorder assigns synthetic
// priorities from list positions and rejects the whole request when any id
// is stale.
package scheduler
