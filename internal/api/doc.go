// Package api defines wire-format types and converters shared by the HTTP
// server, the WebSocket gateway, the JSON-RPC control socket and the clients.
// It translates internal job, batch and workflow models into transport DTOs so
// consumers never couple to internal types.
//
// # Key Types
//
// Job: a job with display labels, timestamps and its live queue position.
//
// QueueSnapshot: the live queue plus the event sequence it reflects. Clients
// apply only streamed events with a larger sequence.
//
// WorkflowStatus / DaemonStatus: slot usage, queue counts, stage health,
// dependencies and preflight results.
//
// SubmitRequest / BatchRequest / ReorderRequest / PriorityRequest: request
// bodies. An omitted syncTiming takes the configured default.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses and stage names are exposed as
// lowercase strings with a title-cased label alongside. Timestamps use RFC3339
// with milliseconds.
package api
