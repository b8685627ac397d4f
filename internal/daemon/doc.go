// Package daemon coordinates the long-running mediaqueued process.
//
// It wires configuration, job storage, the workflow manager, the event
// gateway and the HTTP API into a single lifecycle guarded by a flock-based
// single-instance lock. Start acquires the lock, resumes queued work and
// opens the API listener; Stop reverses that without touching in-flight job
// records, which the next Start re-queues.
//
// Keep orchestration here. Scheduling, stage execution and batch logic live
// in their own packages; the daemon only assembles them and exposes status.
package daemon
