package queue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaqueue/internal/config"
	"mediaqueue/internal/services"
)

// Store manages the job table. Reads are served from memory; every committed
// mutation is written through to the backend before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	jobs    map[string]*Job
	batches map[string]*Batch
	seq     uint64
	now     func() time.Time
}

// Open selects the configured backend and loads existing records.
func Open(cfg *config.Config) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		backend = NewMemoryBackend()
	case config.BackendBadger:
		backend, err = OpenBadger(cfg.StoragePath())
	default:
		backend, err = OpenSQLite(cfg.StoragePath())
	}
	if err != nil {
		return nil, err
	}
	store, err := NewStore(context.Background(), backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

// NewStore builds a Store over backend and loads its contents.
func NewStore(ctx context.Context, backend Backend) (*Store, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	jobs, batches, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job table: %w", err)
	}
	s := &Store{
		backend: backend,
		jobs:    make(map[string]*Job, len(jobs)),
		batches: make(map[string]*Batch, len(batches)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
		if job.Seq > s.seq {
			s.seq = job.Seq
		}
	}
	for _, batch := range batches {
		s.batches[batch.ID] = batch
	}
	return s, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// SetClock overrides the time source; used by tests that need deterministic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) prepareLocked(job *Job) {
	now := s.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if len(job.Stages) == 0 {
		job.Stages = StagesFor(job.Options)
	}
	s.seq++
	job.Seq = s.seq
	job.Status = StatusQueued
	job.Stage = ""
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now
}

// Create admits a new job record in queued state. The caller's job value is
// not retained; the stored copy is returned.
func (s *Store) Create(ctx context.Context, job *Job) (*Job, error) {
	if job == nil || strings.TrimSpace(job.Filename) == "" {
		return nil, services.Wrap(services.ErrAdmission, "queue", "create", "filename is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record := job.Clone()
	s.prepareLocked(record)
	if _, exists := s.jobs[record.ID]; exists {
		return nil, services.Wrap(services.ErrAdmission, "queue", "create", "duplicate job id "+record.ID, nil)
	}
	if err := s.backend.SaveJob(ctx, record); err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "create", "persist job", err)
	}
	s.jobs[record.ID] = record
	return record.Clone(), nil
}

// CreateBatch admits a batch and its member jobs together. If any write
// fails, records already written are removed again.
func (s *Store) CreateBatch(ctx context.Context, batch *Batch, jobs []*Job) (*Batch, []*Job, error) {
	if batch == nil || len(jobs) == 0 {
		return nil, nil, services.Wrap(services.ErrAdmission, "queue", "create batch", "batch has no files", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record := batch.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = s.now()
	record.JobIDs = record.JobIDs[:0]

	created := make([]*Job, 0, len(jobs))
	rollback := func() {
		for _, job := range created {
			_ = s.backend.DeleteJob(ctx, job.ID)
		}
	}
	for _, job := range jobs {
		if job == nil || strings.TrimSpace(job.Filename) == "" {
			rollback()
			return nil, nil, services.Wrap(services.ErrAdmission, "queue", "create batch", "filename is required", nil)
		}
		member := job.Clone()
		member.BatchID = record.ID
		s.prepareLocked(member)
		if err := s.backend.SaveJob(ctx, member); err != nil {
			rollback()
			return nil, nil, services.Wrap(services.ErrTransient, "queue", "create batch", "persist job", err)
		}
		created = append(created, member)
		record.JobIDs = append(record.JobIDs, member.ID)
	}
	record.TotalFiles = len(record.JobIDs)
	if err := s.backend.SaveBatch(ctx, record); err != nil {
		rollback()
		return nil, nil, services.Wrap(services.ErrTransient, "queue", "create batch", "persist batch", err)
	}

	out := make([]*Job, 0, len(created))
	for _, member := range created {
		s.jobs[member.ID] = member
		out = append(out, member.Clone())
	}
	s.batches[record.ID] = record
	return record.Clone(), out, nil
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	return job.Clone(), nil
}

// Update applies fn to a copy of the job, persists the result, and then makes
// it visible. Terminal jobs are immutable; fn errors abort the update.
func (s *Store) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	if current.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "queue", "update", fmt.Sprintf("job %s is %s", id, current.Status), nil)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.UpdatedAt = s.now()
	if err := s.backend.SaveJob(ctx, next); err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "update", "persist job", err)
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// Mutate applies fn to the in-memory record without writing to the backend.
// The pipeline uses it for high-frequency progress ticks and calls Persist
// when a sample is worth keeping.
func (s *Store) Mutate(id string, fn func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	if current.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "queue", "mutate", fmt.Sprintf("job %s is %s", id, current.Status), nil)
	}
	fn(current)
	current.UpdatedAt = s.now()
	return current.Clone(), nil
}

// Persist writes the current in-memory record of a job to the backend.
func (s *Store) Persist(ctx context.Context, id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return notFound("job", id)
	}
	snapshot := job.Clone()
	s.mu.RUnlock()
	if err := s.backend.SaveJob(ctx, snapshot); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "persist", "write job", err)
	}
	return nil
}

// Delete removes a job record. Batch membership lists are left untouched;
// batch views skip members that no longer exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return notFound("job", id)
	}
	if err := s.backend.DeleteJob(ctx, id); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete", "remove job", err)
	}
	delete(s.jobs, id)
	return nil
}

// List returns every job ordered by admission sequence.
func (s *Store) List() []*Job {
	return s.ListByStatus()
}

// ListByStatus returns jobs in admission order, optionally filtered to the given statuses.
func (s *Store) ListByStatus(statuses ...Status) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if len(statuses) > 0 && !slices.Contains(statuses, job.Status) {
			continue
		}
		out = append(out, job.Clone())
	}
	slices.SortFunc(out, func(a, b *Job) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// FindByFingerprint returns jobs whose source hash matches.
func (s *Store) FindByFingerprint(fingerprint string) []*Job {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil
	}
	var out []*Job
	for _, job := range s.List() {
		if job.Fingerprint == fingerprint {
			out = append(out, job)
		}
	}
	return out
}

// Stats returns job counts per status.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Total: len(s.jobs), Counts: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		stats.Counts[status] = 0
	}
	for _, job := range s.jobs {
		stats.Counts[job.Status]++
	}
	return stats
}

// ResetInterrupted returns jobs left processing by a previous run to the
// queued state so they are scheduled again. It returns the reset count.
func (s *Store) ResetInterrupted(ctx context.Context) (int, error) {
	count := 0
	for _, job := range s.ListByStatus(StatusProcessing) {
		_, err := s.Update(ctx, job.ID, func(j *Job) error {
			j.Status = StatusQueued
			j.Stage = ""
			j.Progress = 0
			j.StartedAt = nil
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Batch returns a copy of the batch record.
func (s *Store) Batch(id string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, notFound("batch", id)
	}
	return batch.Clone(), nil
}

// Batches returns all batches, newest first.
func (s *Store) Batches() []*Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		out = append(out, batch.Clone())
	}
	slices.SortFunc(out, func(a, b *Batch) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// BatchJobs returns the existing member jobs of a batch in submission order.
func (s *Store) BatchJobs(id string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, notFound("batch", id)
	}
	out := make([]*Job, 0, len(batch.JobIDs))
	for _, jobID := range batch.JobIDs {
		if job, ok := s.jobs[jobID]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// DeleteBatch removes the batch record only; callers delete member jobs first.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[id]; !ok {
		return notFound("batch", id)
	}
	if err := s.backend.DeleteBatch(ctx, id); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete batch", "remove batch", err)
	}
	delete(s.batches, id)
	return nil
}

func notFound(kind, id string) error {
	return services.Wrap(services.ErrNotFound, "queue", "lookup", fmt.Sprintf("%s %s", kind, id), nil)
}
