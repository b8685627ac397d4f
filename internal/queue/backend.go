package queue

import (
	"context"
	"sync"
)

// Backend persists job and batch records. Implementations only need to be
// durable; ordering and querying happen in the Store's in-memory table.
type Backend interface {
	SaveJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	SaveBatch(ctx context.Context, batch *Batch) error
	DeleteBatch(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]*Job, []*Batch, error)
	Close() error
}

// memoryBackend keeps records in process memory; used for tests and
// ephemeral daemons.
type memoryBackend struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	batches map[string]*Batch
}

// NewMemoryBackend returns a Backend that never touches disk.
func NewMemoryBackend() Backend {
	return &memoryBackend{jobs: make(map[string]*Job), batches: make(map[string]*Batch)}
}

func (m *memoryBackend) SaveJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memoryBackend) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memoryBackend) SaveBatch(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batch.ID] = batch.Clone()
	return nil
}

func (m *memoryBackend) DeleteBatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, id)
	return nil
}

func (m *memoryBackend) LoadAll(context.Context) ([]*Job, []*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Clone())
	}
	batches := make([]*Batch, 0, len(m.batches))
	for _, batch := range m.batches {
		batches = append(batches, batch.Clone())
	}
	return jobs, batches, nil
}

func (m *memoryBackend) Close() error { return nil }
