package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
)

// Store is the read side of the job table the coordinator needs.
type Store interface {
	Batch(id string) (*queue.Batch, error)
	Batches() []*queue.Batch
	BatchJobs(id string) ([]*queue.Job, error)
	DeleteBatch(ctx context.Context, id string) error
}

// Admitter creates and schedules jobs; the workflow manager implements it.
type Admitter interface {
	AdmitBatch(ctx context.Context, batch *queue.Batch, jobs []*queue.Job) (*queue.Batch, []*queue.Job, error)
	Delete(ctx context.Context, jobID string) error
}

// File is one member of a batch submission.
type File struct {
	Filename   string `json:"filename"`
	SourcePath string `json:"sourcePath,omitempty"`
}

// CreateRequest describes a batch submission.
type CreateRequest struct {
	Name     string        `json:"name"`
	Files    []File        `json:"files"`
	Options  queue.Options `json:"options"`
	Priority int           `json:"priority"`
}

// Coordinator implements batch operations over the store.
type Coordinator struct {
	store  Store
	admit  Admitter
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator wires a coordinator.
func NewCoordinator(store Store, admit Admitter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:  store,
		admit:  admit,
		logger: logging.NewComponentLogger(logger, "batch"),
		now:    time.Now,
	}
}

// DefaultName is the name given to batches submitted without one.
func DefaultName(at time.Time) string {
	return "Batch " + at.Format("2006-01-02 15:04")
}

// Create admits one job per file, all sharing the batch id.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (View, error) {
	if len(req.Files) == 0 {
		return View{}, services.Wrap(services.ErrAdmission, "batch", "create", "batch has no files", nil)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultName(c.now())
	}
	jobs := make([]*queue.Job, 0, len(req.Files))
	for i, f := range req.Files {
		if strings.TrimSpace(f.Filename) == "" {
			return View{}, services.Wrap(services.ErrAdmission, "batch", "create", fmt.Sprintf("file %d has no filename", i+1), nil)
		}
		jobs = append(jobs, &queue.Job{
			Filename:   f.Filename,
			SourcePath: f.SourcePath,
			Options:    req.Options,
			Priority:   req.Priority,
		})
	}
	batch, members, err := c.admit.AdmitBatch(ctx, &queue.Batch{Name: name}, jobs)
	if err != nil {
		return View{}, err
	}
	c.logger.Info("batch created",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String("name", batch.Name),
		logging.Int("files", len(members)),
		logging.String(logging.FieldEventType, "batch_created"),
	)
	return Derive(batch, members), nil
}

// Get returns the derived view of one batch.
func (c *Coordinator) Get(id string) (View, error) {
	batch, err := c.store.Batch(id)
	if err != nil {
		return View{}, err
	}
	jobs, err := c.store.BatchJobs(id)
	if err != nil {
		return View{}, err
	}
	return Derive(batch, jobs), nil
}

// List returns every batch, newest first.
func (c *Coordinator) List() []View {
	batches := c.store.Batches()
	out := make([]View, 0, len(batches))
	for _, b := range batches {
		jobs, err := c.store.BatchJobs(b.ID)
		if err != nil {
			continue
		}
		out = append(out, Derive(b, jobs))
	}
	return out
}

// Delete removes every member job (cancelling running ones) and then the
// batch record.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	jobs, err := c.store.BatchJobs(id)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := c.admit.Delete(ctx, job.ID); err != nil && !errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("delete member %s: %w", job.ID, err)
		}
	}
	if err := c.store.DeleteBatch(ctx, id); err != nil {
		return err
	}
	c.logger.Info("batch deleted",
		logging.String(logging.FieldBatchID, id),
		logging.Int("jobs_removed", len(jobs)),
		logging.String(logging.FieldEventType, "batch_deleted"),
	)
	return nil
}
