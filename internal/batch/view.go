package batch

import (
	"time"

	"mediaqueue/internal/queue"
)

// Status is the derived state of a batch.
type Status string

const (
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// View is a batch with its derived aggregates.
type View struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	TotalFiles     int          `json:"totalFiles"`
	CompletedFiles int          `json:"completedFiles"`
	FailedFiles    int          `json:"failedFiles"`
	Progress       float64      `json:"progress"`
	Status         Status       `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	Jobs           []*queue.Job `json:"jobs"`
}

// Derive computes the aggregate view from the batch and its existing members.
// Cancelled members count as failures.
func Derive(batch *queue.Batch, jobs []*queue.Job) View {
	v := View{
		ID:         batch.ID,
		Name:       batch.Name,
		TotalFiles: batch.TotalFiles,
		CreatedAt:  batch.CreatedAt,
		Jobs:       jobs,
		Status:     StatusCompleted,
	}
	if v.Jobs == nil {
		v.Jobs = []*queue.Job{}
	}
	var sum float64
	pending := false
	for _, job := range jobs {
		sum += job.Progress
		switch job.Status {
		case queue.StatusCompleted:
			v.CompletedFiles++
		case queue.StatusFailed, queue.StatusCancelled:
			v.FailedFiles++
		default:
			pending = true
		}
	}
	if len(jobs) > 0 {
		v.Progress = sum / float64(len(jobs))
	}
	switch {
	case pending:
		v.Status = StatusProcessing
	case v.FailedFiles > 0:
		v.Status = StatusCompletedWithErrors
	}
	return v
}

// Finished reports whether every existing member is terminal.
func (v View) Finished() bool {
	return v.Status != StatusProcessing
}
