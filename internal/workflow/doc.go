// Package workflow advances submitted jobs through the processing pipeline.
//
// The Manager owns the slot pool: each slot loop asks the scheduler for the
// next eligible job, hands it to the pipeline executor, and releases the slot
// when the run ends. It also implements the job lifecycle operations shared by
// the HTTP API, the gateway and the control socket (submit, cancel, delete,
// reorder, priority, snapshot, history), recovers jobs interrupted by a
// previous shutdown, and emits ntfy notifications when jobs fail, batches
// finish, or the queue drains.
//
// Every state change that clients care about is published on the event bus;
// the manager never talks to connections directly.
package workflow
