// Package logs reads the daemon's log files directly from disk.
//
// The CLI uses it when the daemon is not reachable over IPC, or when a job's
// own log file is wanted. Tail keeps memory bounded to the requested line
// count; Follow polls for appended lines until its context ends. JSON lines
// written by the daemon decode into logging.LogEvent so they render like the
// live stream.
package logs
