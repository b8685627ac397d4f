package api

import (
	"mediaqueue/internal/batch"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job in a transport-friendly format.
type Job struct {
	ID            string            `json:"id"`
	BatchID       string            `json:"batchId,omitempty"`
	Filename      string            `json:"filename"`
	SourcePath    string            `json:"sourcePath,omitempty"`
	Fingerprint   string            `json:"fingerprint,omitempty"`
	Options       queue.Options     `json:"options"`
	Stages        []string          `json:"stages"`
	Status        string            `json:"status"`
	StatusLabel   string            `json:"statusLabel"`
	Stage         string            `json:"stage,omitempty"`
	StageLabel    string            `json:"stageLabel,omitempty"`
	Progress      float64           `json:"progress"`
	Priority      int               `json:"priority"`
	QueuePosition int               `json:"queuePosition,omitempty"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	StartedAt     string            `json:"startedAt,omitempty"`
	CompletedAt   string            `json:"completedAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	ResultRefs    map[string]string `json:"resultRefs,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (j Job) Terminal() bool {
	return queue.Status(j.Status).IsTerminal()
}

// QueueSnapshot is the live queue as of event sequence Seq.
type QueueSnapshot struct {
	Seq    uint64         `json:"seq"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
	Jobs   []Job          `json:"jobs"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Slots       int            `json:"slots"`
	BusySlots   int            `json:"busySlots"`
	Queued      int            `json:"queued"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
	StagesReady bool           `json:"stagesReady"`
	EventSeq    uint64         `json:"eventSeq"`
	Subscribers int            `json:"subscribers"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// PreflightResult is the outcome of one startup check.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool               `json:"running"`
	PID            int                `json:"pid"`
	StorageBackend string             `json:"storageBackend"`
	StoragePath    string             `json:"storagePath,omitempty"`
	LockFilePath   string             `json:"lockFilePath"`
	SocketPath     string             `json:"socketPath"`
	APIBind        string             `json:"apiBind,omitempty"`
	Workflow       WorkflowStatus     `json:"workflow"`
	Dependencies   []DependencyStatus `json:"dependencies"`
	Preflight      []PreflightResult  `json:"preflight,omitempty"`
}

// SubmitOptions are the pipeline options of a submission. SyncTiming is a
// pointer so an omitted value falls back to the configured default.
type SubmitOptions struct {
	Language           string   `json:"language,omitempty"`
	TranslateTo        string   `json:"translateTo,omitempty"`
	ModelID            string   `json:"modelId,omitempty"`
	DiarizationModelID string   `json:"diarizationModelId,omitempty"`
	TTSModelID         string   `json:"ttsModelId,omitempty"`
	EnableDiarization  bool     `json:"enableDiarization,omitempty"`
	EnableSynthesis    bool     `json:"enableSynthesis,omitempty"`
	SyncTiming         *bool    `json:"syncTiming,omitempty"`
	OutputFormats      []string `json:"outputFormats,omitempty"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	Filename   string        `json:"filename"`
	SourcePath string        `json:"sourcePath,omitempty"`
	Options    SubmitOptions `json:"options"`
	Priority   int           `json:"priority,omitempty"`
}

// BatchRequest is the body of POST /api/batches.
type BatchRequest struct {
	Name     string        `json:"name,omitempty"`
	Files    []batch.File  `json:"files"`
	Options  SubmitOptions `json:"options"`
	Priority int           `json:"priority,omitempty"`
}

// ReorderRequest carries the authoritative order of a set of queued jobs.
type ReorderRequest struct {
	JobIDs []string `json:"jobIds"`
}

// PriorityRequest sets one job's priority.
type PriorityRequest struct {
	Priority int `json:"priority"`
}

// MoveRequest places one queued job at a 1-based queue position.
type MoveRequest struct {
	Position int `json:"position"`
}

// RenameSpeakersRequest maps existing speaker labels to new names.
type RenameSpeakersRequest struct {
	Speakers map[string]string `json:"speakers"`
}

// RenameSpeakersResponse reports how many segments were relabelled.
type RenameSpeakersResponse struct {
	Changed int `json:"changed"`
}

// Batch is a batch with its derived aggregates.
type Batch struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	TotalFiles     int     `json:"totalFiles"`
	CompletedFiles int     `json:"completedFiles"`
	FailedFiles    int     `json:"failedFiles"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	StatusLabel    string  `json:"statusLabel"`
	CreatedAt      string  `json:"createdAt,omitempty"`
	Jobs           []Job   `json:"jobs,omitempty"`
}

// HistoryResponse is one page of finished jobs.
type HistoryResponse struct {
	Jobs   []Job `json:"jobs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// HistoryStatsResponse summarizes finished work.
type HistoryStatsResponse struct {
	Counts               map[string]int `json:"statusCounts"`
	TotalCompleted       int            `json:"totalCompleted"`
	TotalFailed          int            `json:"totalFailed"`
	AvgProcessingSeconds float64        `json:"avgProcessingSeconds"`
}

// LogStreamResponse is one page of streamed log events.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
