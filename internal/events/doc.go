// Package events is the process-wide progress bus.
//
// Publish stamps each event with a monotonic sequence number and hands it to
// every subscriber without blocking; a subscriber whose buffer is full is
// closed and removed. A bounded ring of recent events backs Since for
// diagnostics and log-style replay.
package events
