package workflow

import (
	"context"

	"mediaqueue/internal/queue"
	"mediaqueue/internal/stage"
)

// StatusSummary is the manager's view of itself for status reporting.
type StatusSummary struct {
	Running     bool
	Slots       int
	BusySlots   int
	Queued      int
	LastError   string
	LastJob     *queue.Job
	QueueStats  map[queue.Status]int
	StageHealth []stage.Health
	StagesReady bool
	EventSeq    uint64
	Subscribers int
}

// Status collects slot usage, queue counts and stage readiness.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	var summary StatusSummary
	m.mu.RLock()
	summary.Running = m.running
	summary.LastJob = m.lastJob.Clone()
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.Slots, summary.BusySlots = m.sched.Slots()
	summary.Queued = m.sched.Len()
	summary.QueueStats = m.store.Stats().Counts
	summary.StageHealth = m.stages.Health(ctx)
	summary.StagesReady = stage.AllReady(summary.StageHealth)
	summary.EventSeq = m.bus.Seq()
	summary.Subscribers = m.bus.Subscribers()
	return summary
}

// recordOutcome remembers the latest finished job and, on failure, its error.
func (m *Manager) recordOutcome(job *queue.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job != nil {
		m.lastJob = job.Clone()
	}
	if err != nil {
		m.lastErr = err
	}
}
