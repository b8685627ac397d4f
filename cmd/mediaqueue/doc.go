// Package main hosts the mediaqueue CLI.
//
// Commands translate terminal invocations into JSON-RPC calls against the
// daemon's unix socket. `queue watch` is the exception: it follows the live
// queue over the daemon's WebSocket endpoint so it sees progress as it
// happens and survives daemon restarts.
package main
