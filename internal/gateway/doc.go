// Package gateway fans bus events out to WebSocket clients.
//
// A single bus subscription feeds Broadcast, which hands each event to every
// connection's buffered outbound queue without blocking. A connection whose
// queue is full, or whose write fails, is dropped on its own; the others keep
// streaming. New connections first receive initial_state (the queue snapshot
// and the sequence it reflects) and then every event with a larger sequence.
//
// Clients may send ping, reorder and set_priority messages. Commands are
// forwarded to the workflow; failures are answered with command_error on the
// issuing connection only, successes are visible through the queue_reorder
// broadcast.
package gateway
