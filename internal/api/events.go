package api

import (
	"mediaqueue/internal/events"
	"mediaqueue/internal/queue"
)

// WireEvent replaces internal job payloads with their DTO so the event can be
// encoded for clients.
func WireEvent(evt events.Event) events.Event {
	if job, ok := evt.Data.(*queue.Job); ok {
		evt.Data = FromJob(job)
	}
	return evt
}
