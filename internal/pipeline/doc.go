// Package pipeline runs the static stage list of one job.
//
// Stage-local fractions are mapped onto a single weighted 0-100 scale that
// never decreases and stays below 100 until the job completes. Progress
// emission and cancellation share a per-run lock: once Cancel returns its
// acknowledgement channel no further progress event is published for the
// job. A cancelled parent context (daemon shutdown) is not a user
// cancellation; the job is left processing for recovery on the next start.
package pipeline
