package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/pipeline"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
	"mediaqueue/internal/testsupport"
)

type stepStage struct {
	steps    int
	artifact string
}

func (s stepStage) Run(ctx context.Context, in stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	for i := 1; i <= s.steps; i++ {
		onProgress(float64(i) / float64(s.steps))
	}
	out := stage.Output{}
	if s.artifact != "" {
		out.Artifacts = map[string]string{s.artifact: in.WorkDir + "/" + s.artifact}
	}
	return out, nil
}

// fractionStage reports a fixed sequence of fractions.
type fractionStage []float64

func (f fractionStage) Run(_ context.Context, _ stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	for _, v := range f {
		onProgress(v)
	}
	return stage.Output{}, nil
}

// loggerStage records whether the executor handed it a run logger.
type loggerStage struct {
	mu   sync.Mutex
	jobs map[string]bool
}

func (l *loggerStage) Run(_ context.Context, in stage.Input, _ stage.ProgressFunc) (stage.Output, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[in.JobID] = in.Logger != nil
	return stage.Output{}, nil
}

type failStage struct{}

func (failStage) Run(context.Context, stage.Input, stage.ProgressFunc) (stage.Output, error) {
	return stage.Output{}, services.Wrap(services.ErrStageFailure, "transcribe", "run", "model crashed", nil)
}

// blockingStage reports half progress then waits for cancellation.
type blockingStage struct {
	started chan struct{}
}

func (b blockingStage) Run(ctx context.Context, _ stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	onProgress(0.5)
	close(b.started)
	<-ctx.Done()
	return stage.Output{}, services.Wrap(services.ErrCancelled, "transcribe", "run", "interrupted", ctx.Err())
}

// stubbornStage ignores cancellation until released.
type stubbornStage struct {
	started chan struct{}
	release chan struct{}
}

func (s stubbornStage) Run(_ context.Context, in stage.Input, onProgress stage.ProgressFunc) (stage.Output, error) {
	onProgress(0.2)
	close(s.started)
	<-s.release
	onProgress(1)
	return stage.Output{Artifacts: map[string]string{queue.ArtifactTranscript: in.WorkDir + "/late.json"}}, nil
}

type harness struct {
	store *queue.Store
	bus   *events.Bus
	sub   *events.Subscription
	exec  *pipeline.Executor
}

func newHarness(t *testing.T, reg stage.Registry) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	bus := events.NewBus(1024, nil)
	sub := bus.Subscribe(1024)
	t.Cleanup(sub.Close)
	return &harness{store: store, bus: bus, sub: sub, exec: pipeline.New(cfg, store, bus, reg, nil)}
}

func (h *harness) claim(t *testing.T, opts queue.Options) *queue.Job {
	t.Helper()
	job, err := h.store.Create(context.Background(), &queue.Job{Filename: "talk.mp4", Priority: 5, Options: opts})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now()
	job, err = h.store.Update(context.Background(), job.ID, func(j *queue.Job) error {
		j.Status = queue.StatusProcessing
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return job
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-h.sub.C:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func progressValues(evts []events.Event) []float64 {
	var out []float64
	for _, evt := range evts {
		if evt.Type == events.TypeJobProgress {
			out = append(out, evt.Data.(events.Progress).Progress)
		}
	}
	return out
}

func TestRunCompletesWithMonotonicProgress(t *testing.T) {
	h := newHarness(t, stage.Registry{
		config.StageExtract:    stepStage{steps: 3, artifact: queue.ArtifactAudio},
		config.StageTranscribe: stepStage{steps: 10, artifact: queue.ArtifactTranscript},
		config.StageDiarize:    stepStage{steps: 4},
	})
	job := h.claim(t, queue.Options{EnableDiarization: true})

	status, err := h.exec.Run(context.Background(), job)
	if err != nil || status != queue.StatusCompleted {
		t.Fatalf("Run = %s, %v", status, err)
	}
	evts := h.drain()
	values := progressValues(evts)
	hundreds := 0
	for i, v := range values {
		if i > 0 && v < values[i-1] {
			t.Fatalf("progress regressed at %d: %v", i, values)
		}
		if v == 100 {
			hundreds++
			if i != len(values)-1 {
				t.Fatal("100 emitted before completion")
			}
		}
	}
	if hundreds != 1 {
		t.Fatalf("expected exactly one 100, got %d in %v", hundreds, values)
	}
	if last := evts[len(evts)-1]; last.Type != events.TypeJobComplete {
		t.Fatalf("expected job_complete last, got %s", last.Type)
	}
	for _, evt := range evts {
		if p, ok := evt.Data.(events.Progress); ok && p.Stage == config.StageSynthesize {
			t.Fatal("disabled stage must not be reported")
		}
	}

	stored, _ := h.store.Get(job.ID)
	if stored.Status != queue.StatusCompleted || stored.Progress != 100 || stored.CompletedAt == nil {
		t.Fatalf("unexpected stored job %+v", stored)
	}
	if stored.ResultRefs[queue.ArtifactTranscript] == "" || stored.ResultRefs[queue.ArtifactAudio] == "" {
		t.Fatalf("artifacts not merged: %v", stored.ResultRefs)
	}
}

func TestRunFailureEmitsFinalProgressThenFailed(t *testing.T) {
	h := newHarness(t, stage.Registry{
		config.StageExtract:    stepStage{steps: 2},
		config.StageTranscribe: failStage{},
	})
	job := h.claim(t, queue.Options{})

	status, err := h.exec.Run(context.Background(), job)
	if status != queue.StatusFailed || !errors.Is(err, services.ErrStageFailure) {
		t.Fatalf("Run = %s, %v", status, err)
	}
	evts := h.drain()
	n := len(evts)
	if n < 2 || evts[n-2].Type != events.TypeJobProgress || evts[n-1].Type != events.TypeJobFailed {
		t.Fatalf("expected progress then failed at the end, got %v", evts)
	}
	for _, v := range progressValues(evts) {
		if v >= 100 {
			t.Fatal("failed job must never reach 100")
		}
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != queue.StatusFailed || stored.Error == "" {
		t.Fatalf("unexpected stored job %+v", stored)
	}
}

func TestCancelMidStageStopsProgress(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, stage.Registry{
		config.StageExtract:    stepStage{steps: 2},
		config.StageTranscribe: blockingStage{started: started},
	})
	job := h.claim(t, queue.Options{})

	result := make(chan queue.Status, 1)
	go func() {
		status, _ := h.exec.Run(context.Background(), job)
		result <- status
	}()
	<-started
	ack := h.exec.Cancel(job.ID)
	if ack == nil {
		t.Fatal("expected ack channel for running job")
	}
	select {
	case <-ack:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel was never acknowledged")
	}
	if status := <-result; status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", status)
	}

	evts := h.drain()
	if last := evts[len(evts)-1]; last.Type != events.TypeJobCancelled {
		t.Fatalf("expected job_cancelled last, got %s", last.Type)
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled in store, got %s", stored.Status)
	}
	if h.exec.Active(job.ID) || h.exec.Cancel(job.ID) != nil {
		t.Fatal("run must be unregistered after teardown")
	}
}

func TestCancelDiscardsStubbornStageOutput(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, stage.Registry{
		config.StageExtract:    stepStage{steps: 1},
		config.StageTranscribe: stubbornStage{started: started, release: release},
	})
	job := h.claim(t, queue.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = h.exec.Run(context.Background(), job)
	}()
	<-started
	ack := h.exec.Cancel(job.ID)
	before := progressValues(h.drain())
	close(release)
	<-ack
	wg.Wait()

	after := h.drain()
	for _, evt := range after {
		if evt.Type == events.TypeJobProgress {
			t.Fatalf("progress emitted after cancel: %+v (before: %v)", evt, before)
		}
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != queue.StatusCancelled || stored.ResultRefs[queue.ArtifactTranscript] != "" {
		t.Fatalf("late output leaked into job: %+v", stored)
	}
}

func TestShutdownLeavesJobProcessing(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, stage.Registry{
		config.StageExtract:    stepStage{steps: 1},
		config.StageTranscribe: blockingStage{started: started},
	})
	job := h.claim(t, queue.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		status, err := h.exec.Run(ctx, job)
		if status != queue.StatusProcessing {
			t.Errorf("expected processing on shutdown, got %s", status)
		}
		result <- err
	}()
	<-started
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != queue.StatusProcessing {
		t.Fatalf("expected job left processing, got %s", stored.Status)
	}
	for _, evt := range h.drain() {
		if evt.Type.Terminal() {
			t.Fatalf("unexpected terminal event on shutdown: %s", evt.Type)
		}
	}
}

func TestRunIgnoresNonFiniteProgress(t *testing.T) {
	h := newHarness(t, stage.Registry{
		config.StageExtract:    fractionStage{0.25, math.NaN(), math.Inf(1), 0.75},
		config.StageTranscribe: stepStage{steps: 2},
	})
	job := h.claim(t, queue.Options{})

	status, err := h.exec.Run(context.Background(), job)
	if err != nil || status != queue.StatusCompleted {
		t.Fatalf("Run = %s, %v", status, err)
	}
	evts := h.drain()
	values := progressValues(evts)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite progress at %d: %v", i, values)
		}
		if i > 0 && v < values[i-1] {
			t.Fatalf("progress regressed at %d: %v", i, values)
		}
	}
	for _, evt := range evts {
		if _, err := json.Marshal(evt); err != nil {
			t.Fatalf("event does not encode: %v", err)
		}
	}
	stored, _ := h.store.Get(job.ID)
	if math.IsNaN(stored.Progress) || stored.Progress != 100 {
		t.Fatalf("stored progress = %v", stored.Progress)
	}
}

func TestConcurrentRunsEachGetTheirOwnLogger(t *testing.T) {
	shared := &loggerStage{jobs: make(map[string]bool)}
	h := newHarness(t, stage.Registry{
		config.StageExtract:    shared,
		config.StageTranscribe: shared,
	})
	jobs := []*queue.Job{h.claim(t, queue.Options{}), h.claim(t, queue.Options{})}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if status, err := h.exec.Run(context.Background(), job); err != nil || status != queue.StatusCompleted {
				t.Errorf("Run(%s) = %s, %v", job.ID, status, err)
			}
		}()
	}
	wg.Wait()
	for _, job := range jobs {
		if !shared.jobs[job.ID] {
			t.Fatalf("job %s ran without a logger in its input", job.ID)
		}
	}
}
