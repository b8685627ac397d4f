package gateway

import (
	"encoding/json"
	"time"

	"mediaqueue/internal/events"
)

// Client command names.
const (
	CommandPing        = "ping"
	CommandReorder     = "reorder"
	CommandSetPriority = "set_priority"
)

// ClientMessage is one message read from a client.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReorderCommand is the payload of reorder.
type ReorderCommand struct {
	JobIDs []string `json:"jobIds"`
}

// SetPriorityCommand is the payload of set_priority.
type SetPriorityCommand struct {
	JobID    string `json:"jobId"`
	Priority int    `json:"priority"`
}

// NewReorder builds a reorder message.
func NewReorder(jobIDs []string) ClientMessage {
	data, _ := json.Marshal(ReorderCommand{JobIDs: jobIDs})
	return ClientMessage{Type: CommandReorder, Data: data}
}

// NewSetPriority builds a set_priority message.
func NewSetPriority(jobID string, priority int) ClientMessage {
	data, _ := json.Marshal(SetPriorityCommand{JobID: jobID, Priority: priority})
	return ClientMessage{Type: CommandSetPriority, Data: data}
}

func localEvent(typ events.Type, data any) events.Event {
	return events.Event{Type: typ, Timestamp: time.Now().UTC(), Data: data}
}
