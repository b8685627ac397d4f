// Package client talks to a running daemon over HTTP.
//
// APIClient wraps the REST routes. Watcher holds a WebSocket to
// /api/queue/ws and keeps a Projection of the live queue: every (re)connect
// resets the projection from the initial_state snapshot and then applies
// streamed events newer than it, so a dropped connection never leaves stale
// or regressed progress behind. Reconnect attempts follow a Backoff policy;
// once it is exhausted the watcher stops with ErrConnectionLost.
package client
