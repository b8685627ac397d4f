// Package ipc is the CLI's control channel to mediaqueued: JSON-RPC over a
// Unix socket in the data directory. Request and response types mostly alias
// package api. Error kinds survive the round trip; the server prefixes each
// message with its kind and Client maps it back to the services sentinel.
package ipc
