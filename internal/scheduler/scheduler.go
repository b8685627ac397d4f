package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
)

// JobUpdater is the slice of the job store the scheduler writes through.
type JobUpdater interface {
	Update(ctx context.Context, id string, fn func(*queue.Job) error) (*queue.Job, error)
}

// Entry is a queued job's position key.
type Entry struct {
	JobID      string    `json:"jobId"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Seq        uint64    `json:"seq"`
}

func compareEntries(a, b Entry) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Scheduler is the process-wide pending queue.
type Scheduler struct {
	mu      sync.Mutex
	store   JobUpdater
	logger  *slog.Logger
	entries []Entry
	slots   int
	busy    map[string]struct{}
	seq     uint64
	changed chan struct{}
	now     func() time.Time
}

// New builds a scheduler with the given slot count.
func New(store JobUpdater, slots int, logger *slog.Logger) *Scheduler {
	if slots < 1 {
		slots = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		slots:   slots,
		busy:    make(map[string]struct{}),
		changed: make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the enqueue timestamp source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Wait returns a channel closed on the next enqueue, release or reorder.
func (s *Scheduler) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) sortLocked() {
	slices.SortStableFunc(s.entries, compareEntries)
}

func (s *Scheduler) indexLocked(jobID string) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.JobID == jobID })
}

// Enqueue admits a queued job. The job's CreatedAt is used as the enqueue
// time so a restart reproduces the original order.
func (s *Scheduler) Enqueue(job *queue.Job) error {
	if job == nil {
		return services.Wrap(services.ErrAdmission, "scheduler", "enqueue", "nil job", nil)
	}
	if job.Status != queue.StatusQueued {
		return services.Wrap(services.ErrAdmission, "scheduler", "enqueue", fmt.Sprintf("job %s is %s", job.ID, job.Status), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(job.ID) >= 0 {
		return services.Wrap(services.ErrAdmission, "scheduler", "enqueue", "job already queued "+job.ID, nil)
	}
	enqueuedAt := job.CreatedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = s.now()
	}
	s.seq++
	seq := max(s.seq, job.Seq)
	s.seq = seq
	s.entries = append(s.entries, Entry{JobID: job.ID, Priority: job.Priority, EnqueuedAt: enqueuedAt, Seq: seq})
	s.sortLocked()
	s.notifyLocked()
	return nil
}

// Reorder makes jobIDs authoritative for their relative order: the job at
// index i receives priority i+1. It reports whether any priority changed.
func (s *Scheduler) Reorder(ctx context.Context, jobIDs []string) (bool, error) {
	if len(jobIDs) == 0 {
		return false, services.Wrap(services.ErrValidation, "scheduler", "reorder", "job list is empty", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reorderLocked(ctx, jobIDs)
}

// Move places a queued job at the 1-based position, shifting the jobs from
// that position back. Positions past the end move the job last. The whole
// queue is renumbered the way Reorder does.
func (s *Scheduler) Move(ctx context.Context, jobID string, position int) (bool, error) {
	if position < 1 {
		return false, services.Wrap(services.ErrValidation, "scheduler", "move", fmt.Sprintf("position %d must be at least 1", position), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		return false, services.Wrap(services.ErrOrderingConflict, "scheduler", "move", "job not queued "+jobID, nil)
	}
	order := make([]string, 0, len(s.entries))
	for i, e := range s.entries {
		if i != idx {
			order = append(order, e.JobID)
		}
	}
	at := min(position-1, len(order))
	order = slices.Insert(order, at, jobID)
	return s.reorderLocked(ctx, order)
}

func (s *Scheduler) reorderLocked(ctx context.Context, jobIDs []string) (bool, error) {
	seen := make(map[string]struct{}, len(jobIDs))
	indexes := make([]int, len(jobIDs))
	for i, id := range jobIDs {
		if _, dup := seen[id]; dup {
			return false, services.Wrap(services.ErrOrderingConflict, "scheduler", "reorder", "duplicate job id "+id, nil)
		}
		seen[id] = struct{}{}
		idx := s.indexLocked(id)
		if idx < 0 {
			return false, services.Wrap(services.ErrOrderingConflict, "scheduler", "reorder", "job not queued "+id, nil)
		}
		indexes[i] = idx
	}

	type write struct{ idx, from int }
	var applied []write
	for i, idx := range indexes {
		priority := i + 1
		from := s.entries[idx].Priority
		if from == priority {
			continue
		}
		if err := s.persistPriorityLocked(ctx, s.entries[idx].JobID, priority); err != nil {
			// Nothing was re-sorted yet, so the recorded indexes still hold.
			for _, w := range slices.Backward(applied) {
				id := s.entries[w.idx].JobID
				if rerr := s.persistPriorityLocked(context.WithoutCancel(ctx), id, w.from); rerr != nil {
					s.logger.Error("reorder rollback failed",
						logging.String(logging.FieldJobID, id),
						logging.Error(rerr),
						logging.String(logging.FieldEventType, "queue_reorder_rollback_failed"),
					)
				}
				s.entries[w.idx].Priority = w.from
			}
			return false, err
		}
		s.entries[idx].Priority = priority
		applied = append(applied, write{idx: idx, from: from})
	}
	if len(applied) == 0 {
		return false, nil
	}
	s.sortLocked()
	s.notifyLocked()
	s.logger.Info("queue reordered",
		logging.Int("jobs", len(jobIDs)),
		logging.String(logging.FieldEventType, "queue_reorder"),
	)
	return true, nil
}

// SetPriority changes one queued job's priority within the user range.
func (s *Scheduler) SetPriority(ctx context.Context, jobID string, priority int) (bool, error) {
	lo, hi := config.PriorityBounds()
	if priority < lo || priority > hi {
		return false, services.Wrap(services.ErrValidation, "scheduler", "set priority", fmt.Sprintf("priority %d outside %d-%d", priority, lo, hi), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		return false, services.Wrap(services.ErrOrderingConflict, "scheduler", "set priority", "job not queued "+jobID, nil)
	}
	if s.entries[idx].Priority == priority {
		return false, nil
	}
	if err := s.persistPriorityLocked(ctx, jobID, priority); err != nil {
		return false, err
	}
	s.entries[idx].Priority = priority
	s.sortLocked()
	s.notifyLocked()
	return true, nil
}

func (s *Scheduler) persistPriorityLocked(ctx context.Context, jobID string, priority int) error {
	if s.store == nil {
		return nil
	}
	_, err := s.store.Update(ctx, jobID, func(j *queue.Job) error {
		j.Priority = priority
		return nil
	})
	return err
}

// NextEligible pops the head of the queue when a slot is free and marks the
// job processing. It returns nil when nothing can start.
func (s *Scheduler) NextEligible(ctx context.Context) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.entries) > 0 && len(s.busy) < s.slots {
		head := s.entries[0]
		s.entries = s.entries[1:]

		started := s.now()
		job, err := s.claim(ctx, head.JobID, started)
		if err == nil {
			s.busy[job.ID] = struct{}{}
			return job, nil
		}
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrOrderingConflict) {
			s.logger.Warn("dropping stale queue entry",
				logging.String(logging.FieldJobID, head.JobID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_entry_dropped"),
			)
			continue
		}
		s.entries = append(s.entries, head)
		s.sortLocked()
		return nil, err
	}
	return nil, nil
}

func (s *Scheduler) claim(ctx context.Context, jobID string, started time.Time) (*queue.Job, error) {
	if s.store == nil {
		return &queue.Job{ID: jobID, Status: queue.StatusProcessing, StartedAt: &started}, nil
	}
	return s.store.Update(ctx, jobID, func(j *queue.Job) error {
		if j.Status != queue.StatusQueued {
			return services.Wrap(services.ErrOrderingConflict, "scheduler", "claim", fmt.Sprintf("job %s is %s", j.ID, j.Status), nil)
		}
		j.Status = queue.StatusProcessing
		j.Stage = ""
		j.Progress = 0
		j.Error = ""
		j.StartedAt = &started
		return nil
	})
}

// Release frees the slot held by jobID.
func (s *Scheduler) Release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[jobID]; !ok {
		return
	}
	delete(s.busy, jobID)
	s.notifyLocked()
}

// Remove drops a queued entry. It reports whether the job was queued.
func (s *Scheduler) Remove(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, idx, idx+1)
	s.notifyLocked()
	return true
}

// Snapshot returns the queue in processing order.
func (s *Scheduler) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Position returns the 1-based queue position of jobID.
func (s *Scheduler) Position(jobID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(jobID)
	if idx < 0 {
		return 0, false
	}
	return idx + 1, true
}

// Len reports the number of queued entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Slots reports the configured slot count and how many are in use.
func (s *Scheduler) Slots() (total, busy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots, len(s.busy)
}

// Running reports whether jobID currently holds a slot.
func (s *Scheduler) Running(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[jobID]
	return ok
}
