package workflow

import (
	"cmp"
	"slices"

	"mediaqueue/internal/queue"
)

// QueuedJob is a live job with its derived queue position. Position is zero
// for processing jobs.
type QueuedJob struct {
	Job      *queue.Job
	Position int
}

// Snapshot is the live queue as of event sequence Seq. Clients apply only
// streamed events with a greater sequence.
type Snapshot struct {
	Seq    uint64
	Counts map[queue.Status]int
	Total  int
	Jobs   []QueuedJob
}

// Snapshot returns processing jobs followed by queued jobs in processing
// order. The bus sequence is read first, so any event missing from the
// state carries a larger sequence and is replayed by the client. Queued jobs
// are read before processing ones so a job claimed in between shows up as
// processing rather than vanishing.
func (m *Manager) Snapshot() Snapshot {
	seq := m.bus.Seq()
	stats := m.store.Stats()
	snap := Snapshot{Seq: seq, Counts: stats.Counts, Total: stats.Total}

	queued := m.queuedJobs()
	if m.hooks.snapshotQueuedRead != nil {
		m.hooks.snapshotQueuedRead()
	}
	processing := make(map[string]struct{})
	for _, job := range m.store.ListByStatus(queue.StatusProcessing) {
		processing[job.ID] = struct{}{}
		snap.Jobs = append(snap.Jobs, QueuedJob{Job: job})
	}
	position := 0
	for _, job := range queued {
		if _, claimed := processing[job.ID]; claimed {
			continue
		}
		position++
		snap.Jobs = append(snap.Jobs, QueuedJob{Job: job, Position: position})
	}
	if snap.Jobs == nil {
		snap.Jobs = []QueuedJob{}
	}
	return snap
}

// queuedJobs lists queued jobs in scheduler order. Queued jobs not yet
// admitted to the scheduler (before Start) follow in the order the scheduler
// would give them.
func (m *Manager) queuedJobs() []*queue.Job {
	var out []*queue.Job
	seen := make(map[string]struct{})
	for _, entry := range m.sched.Snapshot() {
		job, err := m.store.Get(entry.JobID)
		if err != nil || job.Status != queue.StatusQueued {
			continue
		}
		seen[job.ID] = struct{}{}
		out = append(out, job)
	}
	var pending []*queue.Job
	for _, job := range m.store.ListByStatus(queue.StatusQueued) {
		if _, ok := seen[job.ID]; !ok {
			pending = append(pending, job)
		}
	}
	slices.SortStableFunc(pending, func(a, b *queue.Job) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return append(out, pending...)
}

// Position returns the 1-based queue position of a queued job.
func (m *Manager) Position(jobID string) (int, bool) {
	return m.sched.Position(jobID)
}
