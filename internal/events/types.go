package events

import (
	"encoding/json"
	"time"
)

// Type names an event on the bus and on the client stream.
type Type string

const (
	TypeJobQueued    Type = "job_queued"
	TypeJobProgress  Type = "job_progress"
	TypeJobComplete  Type = "job_complete"
	TypeJobFailed    Type = "job_failed"
	TypeJobCancelled Type = "job_cancelled"
	TypeJobRemoved   Type = "job_removed"
	TypeQueueReorder Type = "queue_reorder"
	TypeInitialState Type = "initial_state"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeCommandError Type = "command_error"
)

// Terminal reports whether the event ends a job's lifecycle.
func (t Type) Terminal() bool {
	return t == TypeJobComplete || t == TypeJobFailed || t == TypeJobCancelled
}

// Event is the envelope every bus message travels in. Seq is zero for
// connection-local messages (ping, pong, command_error).
type Event struct {
	Type      Type      `json:"type"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"jobId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Envelope is the decoding side of Event with the payload left raw.
type Envelope struct {
	Type      Type            `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"jobId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Progress is the payload of job_progress.
type Progress struct {
	JobID      string   `json:"jobId"`
	Stage      string   `json:"stage"`
	Progress   float64  `json:"progress"`
	ETASeconds *float64 `json:"eta,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Removed is the payload of job_removed.
type Removed struct {
	JobID   string `json:"jobId"`
	BatchID string `json:"batchId,omitempty"`
}

// QueueOrder is the payload of queue_reorder: the queued ids in processing
// order with their priorities.
type QueueOrder struct {
	JobIDs     []string       `json:"jobIds"`
	Priorities map[string]int `json:"priorities"`
}

// CommandError answers a rejected client command.
type CommandError struct {
	Command string `json:"command"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}
