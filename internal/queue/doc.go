// Package queue is the job store: the single source of truth for Job and
// Batch records.
//
// The Store keeps the authoritative table in memory and writes every
// committed mutation through to a pluggable Backend (SQLite by default,
// Badger or memory by configuration) so the daemon can recover jobs after a
// restart. Terminal jobs (completed, failed, cancelled) are immutable except
// for deletion.
//
// The SQLite database is treated as durable storage for in-flight and recent
// jobs. Schema changes bump the version in sqlite_schema.go; users clear the
// database to adopt the new schema.
package queue
