package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/notifications"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
	"mediaqueue/internal/testsupport"
	"mediaqueue/internal/workflow"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	loads  []notifications.Payload
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.loads = append(s.loads, payload)
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func (s *stubNotifier) payload(event notifications.Event) notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e == event {
			return s.loads[i]
		}
	}
	return nil
}

// recorder collects every bus event for later inspection.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	done   chan struct{}
}

func record(t *testing.T, bus *events.Bus) *recorder {
	t.Helper()
	sub := bus.Subscribe(4096)
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for evt := range sub.C {
			r.mu.Lock()
			r.events = append(r.events, evt)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		sub.Close()
		<-r.done
	})
	return r
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) ofType(typ events.Type) []events.Event {
	var out []events.Event
	for _, evt := range r.snapshot() {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

// failFor fails the wrapped stage for one filename.
type failFor struct {
	next     stage.Handler
	filename string
}

func (f failFor) Run(ctx context.Context, in stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	if in.Filename == f.filename {
		onProgress(0.3)
		return stage.Output{}, services.Wrap(services.ErrStageFailure, in.Stage, "run", "model crashed", nil)
	}
	return f.next.Run(ctx, in, onProgress)
}

// gateStage reports half progress, signals, then waits for cancellation.
type gateStage struct {
	started chan string
}

func (g gateStage) Run(ctx context.Context, in stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	onProgress(0.5)
	g.started <- in.JobID
	<-ctx.Done()
	return stage.Output{}, services.Wrap(services.ErrCancelled, in.Stage, "run", "interrupted", ctx.Err())
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	manager  *workflow.Manager
	notifier *stubNotifier
	events   *recorder
}

func newHarness(t *testing.T, stages func(*config.Config, stage.Registry), opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	reg := stage.NewRegistry(cfg)
	if stages != nil {
		stages(cfg, reg)
	}
	notifier := &stubNotifier{}
	manager := workflow.NewManagerWithOptions(cfg, store, nil,
		workflow.WithStages(reg),
		workflow.WithNotifier(notifier),
	)
	h := &harness{cfg: cfg, store: store, manager: manager, notifier: notifier}
	h.events = record(t, manager.Bus())
	t.Cleanup(manager.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) submit(t *testing.T, filename string, priority int) *queue.Job {
	t.Helper()
	job, err := h.manager.Submit(context.Background(), workflow.JobRequest{
		Filename: filename,
		Priority: priority,
		Options:  queue.Options{OutputFormats: []string{"json"}},
	})
	if err != nil {
		t.Fatalf("Submit %s: %v", filename, err)
	}
	return job
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitStatus(t *testing.T, id string, want queue.Status) *queue.Job {
	t.Helper()
	var job *queue.Job
	waitFor(t, "job "+id+" to be "+string(want), func() bool {
		var err error
		job, err = h.store.Get(id)
		return err == nil && job.Status == want
	})
	return job
}
