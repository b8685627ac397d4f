package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/language"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/preflight"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

const cancelPollInterval = 10 * time.Millisecond

// JobRequest is a single-file submission.
type JobRequest struct {
	Filename   string
	SourcePath string
	Options    queue.Options
	Priority   int
}

// Submit validates and admits one job, enqueues it and publishes job_queued.
func (m *Manager) Submit(ctx context.Context, req JobRequest) (*queue.Job, error) {
	job, err := m.prepareJob(&queue.Job{
		Filename:   req.Filename,
		SourcePath: req.SourcePath,
		Options:    req.Options,
		Priority:   req.Priority,
	})
	if err != nil {
		return nil, err
	}
	if err := m.checkDiskSpace(); err != nil {
		return nil, err
	}
	created, err := m.store.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := m.admit(created); err != nil {
		return nil, err
	}
	return created, nil
}

// AdmitBatch creates a batch and its members in one store transaction and
// enqueues every member. It implements batch.Admitter.
func (m *Manager) AdmitBatch(ctx context.Context, b *queue.Batch, jobs []*queue.Job) (*queue.Batch, []*queue.Job, error) {
	prepared := make([]*queue.Job, 0, len(jobs))
	for _, job := range jobs {
		p, err := m.prepareJob(job)
		if err != nil {
			return nil, nil, err
		}
		prepared = append(prepared, p)
	}
	if err := m.checkDiskSpace(); err != nil {
		return nil, nil, err
	}
	record, members, err := m.store.CreateBatch(ctx, b, prepared)
	if err != nil {
		return nil, nil, err
	}
	for _, member := range members {
		if err := m.admit(member); err != nil {
			return nil, nil, err
		}
	}
	return record, members, nil
}

// prepareJob validates a submission and fills defaults. The returned job is
// a copy ready for the store.
func (m *Manager) prepareJob(in *queue.Job) (*queue.Job, error) {
	if in == nil {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "empty request", nil)
	}
	job := in.Clone()
	job.Filename = strings.TrimSpace(job.Filename)
	if job.Filename == "" {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "filename is required", nil)
	}

	if job.Priority == 0 {
		job.Priority = m.cfg.Scheduler.DefaultPriority
	}
	if lo, hi := config.PriorityBounds(); job.Priority < lo || job.Priority > hi {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit",
			fmt.Sprintf("priority %d outside %d-%d", job.Priority, lo, hi), nil)
	}

	if strings.TrimSpace(job.Options.Language) == "" {
		job.Options.Language = m.cfg.Pipeline.DefaultLanguage
	}
	var err error
	if job.Options.Language, err = language.Normalize(job.Options.Language); err != nil {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", err.Error(), nil)
	}
	if job.Options.TranslateTo, err = language.Normalize(job.Options.TranslateTo); err != nil {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "translate_to: "+err.Error(), nil)
	}
	if job.Options.TranslateTo == language.Auto {
		return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "translate_to needs a concrete language", nil)
	}
	if len(job.Options.OutputFormats) == 0 {
		job.Options.OutputFormats = append([]string(nil), m.cfg.Pipeline.DefaultOutputFormats...)
	}
	formats := make([]string, 0, len(job.Options.OutputFormats))
	for _, raw := range job.Options.OutputFormats {
		format, err := transcript.ParseFormat(raw)
		if err != nil {
			return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "unsupported output format "+raw, nil)
		}
		formats = append(formats, string(format))
	}
	job.Options.OutputFormats = formats
	job.Stages = queue.StagesFor(job.Options)

	if path := strings.TrimSpace(job.SourcePath); path != "" {
		fingerprint, err := queue.Fingerprint(path)
		if err != nil {
			return nil, services.Wrap(services.ErrAdmission, "workflow", "submit", "source file unreadable", err)
		}
		job.SourcePath = path
		job.Fingerprint = fingerprint
		if dupes := m.store.FindByFingerprint(fingerprint); len(dupes) > 0 {
			m.logger.Info("source already submitted",
				logging.String("filename", job.Filename),
				logging.String("previous_job", dupes[len(dupes)-1].ID),
				logging.String(logging.FieldEventType, "duplicate_source"),
			)
		}
	}
	return job, nil
}

func (m *Manager) checkDiskSpace() error {
	minMiB := m.cfg.Workflow.MinFreeDiskMiB
	if minMiB <= 0 {
		return nil
	}
	if err := os.MkdirAll(m.cfg.Paths.WorkDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "submit", "create work directory", err)
	}
	if r := preflight.CheckFreeSpace("work directory", m.cfg.Paths.WorkDir, minMiB); !r.Passed {
		return services.Wrap(services.ErrAdmission, "workflow", "submit", "insufficient disk space: "+r.Detail, nil)
	}
	return nil
}

func (m *Manager) admit(job *queue.Job) error {
	if err := m.sched.Enqueue(job); err != nil {
		return err
	}
	m.bus.Publish(events.TypeJobQueued, job.ID, job)
	position, _ := m.sched.Position(job.ID)
	m.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("filename", job.Filename),
		logging.Int("priority", job.Priority),
		logging.Int("position", position),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return nil
}

// Get returns one job.
func (m *Manager) Get(id string) (*queue.Job, error) {
	return m.store.Get(id)
}

// List returns jobs in admission order, optionally filtered by status.
func (m *Manager) List(statuses ...queue.Status) []*queue.Job {
	return m.store.ListByStatus(statuses...)
}

// Cancel stops a job. Queued jobs leave the queue immediately; processing
// jobs are cancelled through the executor and Cancel waits for the ack.
// Terminal jobs cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	for {
		job, err := m.store.Get(id)
		if err != nil {
			return nil, err
		}
		switch {
		case job.IsTerminal():
			return nil, services.Wrap(services.ErrValidation, "workflow", "cancel", fmt.Sprintf("job %s is already %s", id, job.Status), nil)
		case job.Status == queue.StatusQueued:
			m.sched.Remove(id)
			cancelled, err := m.markCancelled(ctx, id, queue.StatusQueued)
			if errors.Is(err, services.ErrOrderingConflict) {
				continue
			}
			return cancelled, err
		}

		if done := m.exec.Cancel(id); done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return m.store.Get(id)
		}
		if !m.sched.Running(id) && !m.exec.Active(id) {
			// Left processing by a stopped manager; nothing will finish it.
			cancelled, err := m.markCancelled(ctx, id, queue.StatusProcessing)
			if errors.Is(err, services.ErrOrderingConflict) {
				continue
			}
			return cancelled, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cancelPollInterval):
		}
	}
}

// markCancelled finalizes a job that has no executor run.
func (m *Manager) markCancelled(ctx context.Context, id string, expect queue.Status) (*queue.Job, error) {
	now := m.now().UTC()
	job, err := m.store.Update(ctx, id, func(j *queue.Job) error {
		if j.Status != expect {
			return services.Wrap(services.ErrOrderingConflict, "workflow", "cancel", fmt.Sprintf("job %s is %s", j.ID, j.Status), nil)
		}
		j.Status = queue.StatusCancelled
		j.Stage = ""
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.bus.Publish(events.TypeJobCancelled, job.ID, job)
	m.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("previous_status", string(expect)),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	if job.BatchID != "" {
		m.checkBatchCompletion(context.WithoutCancel(ctx), job.BatchID)
	}
	return job, nil
}

// Delete removes a job in any state, cancelling it first when it is
// processing, and publishes job_removed.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if m.hooks.deleteRead != nil {
		m.hooks.deleteRead(id)
	}
	// A slot may claim the job between the read and Remove; the claim
	// finishes under the scheduler lock, so a re-read sees it.
	for job.Status == queue.StatusQueued && !m.sched.Remove(id) {
		current, err := m.store.Get(id)
		if err != nil {
			return err
		}
		if current.Status == job.Status {
			break
		}
		job = current
	}
	switch job.Status {
	case queue.StatusProcessing:
		if _, err := m.Cancel(ctx, id); err != nil && !errors.Is(err, services.ErrValidation) {
			return err
		}
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.bus.Publish(events.TypeJobRemoved, id, events.Removed{JobID: id, BatchID: job.BatchID})
	if err := os.RemoveAll(m.cfg.JobWorkDir(id)); err != nil {
		m.logger.Warn("job work directory not removed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
		)
	}
	m.logger.Info("job removed",
		logging.String(logging.FieldJobID, id),
		logging.String("status", string(job.Status)),
		logging.String(logging.FieldEventType, "job_removed"),
	)
	return nil
}

// Reorder makes jobIDs authoritative for their relative queue order and
// publishes queue_reorder when anything changed.
func (m *Manager) Reorder(ctx context.Context, jobIDs []string) error {
	changed, err := m.sched.Reorder(ctx, jobIDs)
	if err != nil {
		return err
	}
	if changed {
		m.publishQueueOrder()
	}
	return nil
}

// SetPriority changes one queued job's priority and publishes queue_reorder
// when it changed.
func (m *Manager) SetPriority(ctx context.Context, jobID string, priority int) error {
	changed, err := m.sched.SetPriority(ctx, jobID, priority)
	if err != nil {
		return err
	}
	if changed {
		m.publishQueueOrder()
	}
	return nil
}

// Move places a queued job at a 1-based queue position and publishes
// queue_reorder when the order changed.
func (m *Manager) Move(ctx context.Context, jobID string, position int) error {
	changed, err := m.sched.Move(ctx, jobID, position)
	if err != nil {
		return err
	}
	if changed {
		m.publishQueueOrder()
	}
	return nil
}

func (m *Manager) publishQueueOrder() {
	entries := m.sched.Snapshot()
	order := events.QueueOrder{
		JobIDs:     make([]string, 0, len(entries)),
		Priorities: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		order.JobIDs = append(order.JobIDs, e.JobID)
		order.Priorities[e.JobID] = e.Priority
	}
	m.bus.Publish(events.TypeQueueReorder, "", order)
}

// History lists terminal jobs.
func (m *Manager) History(filter queue.HistoryFilter) queue.HistoryPage {
	return m.store.History(filter)
}

// HistoryStats summarizes finished work.
func (m *Manager) HistoryStats() queue.HistoryStats {
	return m.store.HistoryStats()
}

// Transcript loads the transcript artifact of a job.
func (m *Manager) Transcript(id string) (*transcript.Transcript, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	ref := job.ResultRefs[queue.ArtifactTranscript]
	if ref == "" {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "transcript", "job "+id+" has no transcript", nil)
	}
	t, err := transcript.Load(ref)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "transcript", "load transcript", err)
	}
	return t, nil
}

// RenameSpeakers relabels speakers in a completed job's transcript and
// returns how many segments changed.
func (m *Manager) RenameSpeakers(id string, mapping map[string]string) (int, error) {
	if len(mapping) == 0 {
		return 0, services.Wrap(services.ErrValidation, "workflow", "rename speakers", "no speaker names given", nil)
	}
	var changed int
	err := m.editTranscript(id, "rename speakers", func(t *transcript.Transcript) (bool, error) {
		changed = t.RenameSpeakers(mapping)
		return changed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		m.logger.Info("speakers renamed",
			logging.String(logging.FieldJobID, id),
			logging.Int("segments", changed),
			logging.String(logging.FieldEventType, "speakers_renamed"),
		)
	}
	return changed, nil
}

// EditSegment rewrites one segment of a completed job's transcript.
func (m *Manager) EditSegment(id string, segmentID int, edit transcript.SegmentEdit) (transcript.Segment, error) {
	var seg transcript.Segment
	err := m.editTranscript(id, "edit segment", func(t *transcript.Transcript) (bool, error) {
		var err error
		seg, err = t.EditSegment(segmentID, edit)
		return err == nil, err
	})
	if err != nil {
		return transcript.Segment{}, err
	}
	m.logger.Info("transcript segment edited",
		logging.String(logging.FieldJobID, id),
		logging.Int("segment", segmentID),
		logging.String(logging.FieldEventType, "segment_edited"),
	)
	return seg, nil
}

// editTranscript loads a completed job's transcript, applies fn and saves
// the result when fn reports a change. Edits are serialized.
func (m *Manager) editTranscript(id, op string, fn func(*transcript.Transcript) (bool, error)) error {
	m.editMu.Lock()
	defer m.editMu.Unlock()
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status != queue.StatusCompleted {
		return services.Wrap(services.ErrValidation, "workflow", op, fmt.Sprintf("job %s is %s", id, job.Status), nil)
	}
	t, err := m.Transcript(id)
	if err != nil {
		return err
	}
	dirty, err := fn(t)
	if err != nil || !dirty {
		return err
	}
	if err := t.Save(job.ResultRefs[queue.ArtifactTranscript]); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", op, "save transcript", err)
	}
	return nil
}
