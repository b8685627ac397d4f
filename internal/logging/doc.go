// Package logging builds the slog loggers used by mediaqueued and the CLI.
//
// The console format prints one line per record: time, level, component, a
// compact subject (slot, job, stage) and the message, followed by a capped
// list of key=value fields. Debug records show every field plus the caller.
// The json format keeps all attributes. Either format can mirror records into
// a StreamHub for log streaming over IPC.
package logging
