// Package services defines shared utilities consumed by the scheduler, the
// pipeline executor, and the API surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, batch IDs, stage names, slot
//     numbers, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so admission failures,
//     stage failures, cancellations, and ordering conflicts stay
//     distinguishable with errors.Is all the way to the HTTP layer.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
