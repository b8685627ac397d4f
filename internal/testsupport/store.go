package testsupport

import (
	"context"
	"testing"

	"mediaqueue/internal/config"
	"mediaqueue/internal/queue"
)

// MustOpenStore opens the job store described by cfg and closes it when the
// test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewJob inserts a queued job with auto language detection and JSON output.
func NewJob(t testing.TB, store *queue.Store, filename string, priority int) *queue.Job {
	t.Helper()
	job := &queue.Job{
		Filename: filename,
		Priority: priority,
		Options:  queue.Options{Language: "auto", OutputFormats: []string{"json"}},
	}
	created, err := store.Create(context.Background(), job)
	if err != nil {
		t.Fatalf("create job %s: %v", filename, err)
	}
	return created
}
