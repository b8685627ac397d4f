package workflow

import "context"

// OnDeleteRead runs fn after Delete reads the job.
func OnDeleteRead(m *Manager, fn func(id string)) { m.hooks.deleteRead = fn }

// OnSnapshotQueuedRead runs fn after Snapshot collects queued jobs.
func OnSnapshotQueuedRead(m *Manager, fn func()) { m.hooks.snapshotQueuedRead = fn }

// ClaimNext moves the queue head to processing the way a slot does, then
// frees the slot without running the job.
func ClaimNext(m *Manager) (string, error) {
	job, err := m.sched.NextEligible(context.Background())
	if err != nil || job == nil {
		return "", err
	}
	m.sched.Release(job.ID)
	return job.ID, nil
}
