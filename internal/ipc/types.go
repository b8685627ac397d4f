package ipc

import (
	"mediaqueue/internal/api"
	"mediaqueue/internal/batch"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/transcript"
)

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the combined daemon and workflow status.
type StatusResponse = api.DaemonStatus

// Job mirrors the HTTP API job DTO for IPC callers.
type Job = api.Job

// QueueRequest fetches the live queue snapshot.
type QueueRequest struct{}

// QueueResponse is the live queue snapshot.
type QueueResponse = api.QueueSnapshot

// JobListRequest filters the job listing by status.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
}

// JobListResponse contains jobs in store order.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobRequest names a single job.
type JobRequest struct {
	ID string `json:"id"`
}

// JobResponse carries a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// SubmitRequest enqueues one file.
type SubmitRequest = api.SubmitRequest

// RemoveResponse reports a deletion.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// ReorderRequest applies an explicit order to queued jobs.
type ReorderRequest = api.ReorderRequest

// PriorityRequest sets one job's priority.
type PriorityRequest struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// TranscriptRequest renders a completed job's transcript.
type TranscriptRequest struct {
	ID     string `json:"id"`
	Format string `json:"format"`
}

// TranscriptResponse carries the rendered transcript.
type TranscriptResponse struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// RenameSpeakersRequest relabels diarized speakers.
type RenameSpeakersRequest struct {
	ID       string            `json:"id"`
	Speakers map[string]string `json:"speakers"`
}

// RenameSpeakersResponse reports how many segments changed.
type RenameSpeakersResponse = api.RenameSpeakersResponse

// MoveRequest places one queued job at a 1-based position.
type MoveRequest struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// EditSegmentRequest rewrites one transcript segment.
type EditSegmentRequest struct {
	ID      string                 `json:"id"`
	Segment int                    `json:"segment"`
	Edit    transcript.SegmentEdit `json:"edit"`
}

// EditSegmentResponse carries the segment as saved.
type EditSegmentResponse struct {
	Segment transcript.Segment `json:"segment"`
}

// BatchCreateRequest enqueues a batch.
type BatchCreateRequest = api.BatchRequest

// BatchRequest names a single batch.
type BatchRequest struct {
	ID string `json:"id"`
}

// BatchResponse carries a batch with members.
type BatchResponse struct {
	Batch api.Batch `json:"batch"`
}

// BatchListRequest lists batches.
type BatchListRequest struct{}

// BatchListResponse lists batches without members.
type BatchListResponse struct {
	Batches []api.Batch `json:"batches"`
}

// BatchExportRequest writes the batch archive to Path on the daemon host.
type BatchExportRequest struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// BatchExportResponse describes the written archive.
type BatchExportResponse struct {
	Path     string         `json:"path"`
	Bytes    int64          `json:"bytes"`
	Manifest batch.Manifest `json:"manifest"`
}

// HistoryRequest filters finished jobs.
type HistoryRequest = api.HistoryQuery

// HistoryResponse is one page of finished jobs.
type HistoryResponse = api.HistoryResponse

// HistoryStatsRequest summarizes finished work.
type HistoryStatsRequest struct{}

// HistoryStatsResponse summarizes finished work.
type HistoryStatsResponse = api.HistoryStatsResponse

// LogTailRequest fetches streamed log events after Since. Tail returns the
// newest Limit events when Since is zero.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Tail       bool   `json:"tail"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	JobID      string `json:"job_id"`
	Component  string `json:"component"`
}

// LogTailResponse returns log events and the next cursor.
type LogTailResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
