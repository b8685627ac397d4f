package client

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"mediaqueue/internal/api"
	"mediaqueue/internal/events"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
)

// Projection is the client-side view of the queue, rebuilt from a snapshot
// and advanced by ordered events.
type Projection struct {
	mu     sync.RWMutex
	seq    uint64
	jobs   map[string]*api.Job
	queued []string
}

// NewProjection returns an empty projection at sequence zero.
func NewProjection() *Projection {
	return &Projection{jobs: make(map[string]*api.Job)}
}

// Reset replaces the whole view with snap.
func (p *Projection) Reset(snap api.QueueSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq = snap.Seq
	p.jobs = make(map[string]*api.Job, len(snap.Jobs))
	p.queued = p.queued[:0]
	type positioned struct {
		id  string
		pos int
	}
	var waiting []positioned
	for i := range snap.Jobs {
		job := snap.Jobs[i]
		p.jobs[job.ID] = &job
		if job.Status == string(queue.StatusQueued) {
			waiting = append(waiting, positioned{id: job.ID, pos: job.QueuePosition})
		}
	}
	slices.SortStableFunc(waiting, func(a, b positioned) int { return a.pos - b.pos })
	for _, w := range waiting {
		p.queued = append(p.queued, w.id)
	}
	p.renumberLocked()
}

// Apply advances the view by one streamed event. Events at or below the
// current sequence, and connection-local events, are ignored. initial_state
// always resets. It reports whether the view changed.
func (p *Projection) Apply(env events.Envelope) (bool, error) {
	if env.Type == events.TypeInitialState {
		var snap api.QueueSnapshot
		if err := decodePayload(env, &snap); err != nil {
			return false, err
		}
		p.Reset(snap)
		return true, nil
	}
	if env.Seq == 0 {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if env.Seq <= p.seq {
		return false, nil
	}
	switch env.Type {
	case events.TypeJobQueued:
		var job api.Job
		if err := decodePayload(env, &job); err != nil {
			return false, err
		}
		p.jobs[job.ID] = &job
		p.insertQueuedLocked(job.ID, job.Priority)
	case events.TypeJobProgress:
		var progress events.Progress
		if err := decodePayload(env, &progress); err != nil {
			return false, err
		}
		p.applyProgressLocked(progress)
	case events.TypeJobComplete, events.TypeJobFailed, events.TypeJobCancelled:
		var job api.Job
		if err := decodePayload(env, &job); err != nil {
			return false, err
		}
		if prev, ok := p.jobs[job.ID]; ok && prev.Progress > job.Progress {
			job.Progress = prev.Progress
		}
		job.QueuePosition = 0
		p.jobs[job.ID] = &job
		p.dropQueuedLocked(job.ID)
	case events.TypeJobRemoved:
		var removed events.Removed
		if err := decodePayload(env, &removed); err != nil {
			return false, err
		}
		delete(p.jobs, removed.JobID)
		p.dropQueuedLocked(removed.JobID)
	case events.TypeQueueReorder:
		var order events.QueueOrder
		if err := decodePayload(env, &order); err != nil {
			return false, err
		}
		p.queued = p.queued[:0]
		for _, id := range order.JobIDs {
			job, ok := p.jobs[id]
			if !ok {
				continue
			}
			if pr, ok := order.Priorities[id]; ok {
				job.Priority = pr
			}
			p.queued = append(p.queued, id)
		}
	default:
		return false, nil
	}
	p.seq = env.Seq
	p.renumberLocked()
	return true, nil
}

func (p *Projection) applyProgressLocked(update events.Progress) {
	job, ok := p.jobs[update.JobID]
	if !ok || job.Terminal() {
		return
	}
	if job.Status == string(queue.StatusQueued) {
		job.Status = string(queue.StatusProcessing)
		job.StatusLabel = stage.Label(job.Status)
		job.QueuePosition = 0
		p.dropQueuedLocked(job.ID)
	}
	if update.Stage != "" {
		job.Stage = update.Stage
		job.StageLabel = stage.Label(update.Stage)
	}
	if update.Progress > job.Progress {
		job.Progress = update.Progress
	}
}

// insertQueuedLocked places id after every queued job of equal or lower
// priority, matching the scheduler's (priority, enqueue time) order.
func (p *Projection) insertQueuedLocked(id string, priority int) {
	p.dropQueuedLocked(id)
	at := len(p.queued)
	for i, other := range p.queued {
		if job, ok := p.jobs[other]; ok && job.Priority > priority {
			at = i
			break
		}
	}
	p.queued = slices.Insert(p.queued, at, id)
}

func (p *Projection) dropQueuedLocked(id string) {
	if i := slices.Index(p.queued, id); i >= 0 {
		p.queued = slices.Delete(p.queued, i, i+1)
	}
}

func (p *Projection) renumberLocked() {
	for _, job := range p.jobs {
		job.QueuePosition = 0
	}
	for i, id := range p.queued {
		if job, ok := p.jobs[id]; ok {
			job.QueuePosition = i + 1
		}
	}
}

// Seq returns the sequence the view reflects.
func (p *Projection) Seq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

// Job returns a copy of one job.
func (p *Projection) Job(id string) (api.Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[id]
	if !ok {
		return api.Job{}, false
	}
	return *job, true
}

// Queued returns the ids of queued jobs in processing order.
func (p *Projection) Queued() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.queued)
}

// Jobs returns every job: queued ones in processing order first, then the
// rest by creation time.
func (p *Projection) Jobs() []api.Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]api.Job, 0, len(p.jobs))
	for _, id := range p.queued {
		out = append(out, *p.jobs[id])
	}
	rest := make([]api.Job, 0, len(p.jobs)-len(p.queued))
	for _, job := range p.jobs {
		if job.QueuePosition == 0 {
			rest = append(rest, *job)
		}
	}
	slices.SortFunc(rest, func(a, b api.Job) int {
		if c := strings.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return append(out, rest...)
}

func decodePayload(env events.Envelope, dst any) error {
	if len(env.Data) == 0 {
		return services.Wrap(services.ErrValidation, "client", "apply", "event "+string(env.Type)+" has no payload", nil)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return services.Wrap(services.ErrValidation, "client", "apply", "decode "+string(env.Type), err)
	}
	return nil
}
