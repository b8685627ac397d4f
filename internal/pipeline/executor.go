package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
)

// JobStore is the slice of the job store the executor writes.
type JobStore interface {
	Get(id string) (*queue.Job, error)
	Update(ctx context.Context, id string, fn func(*queue.Job) error) (*queue.Job, error)
	Mutate(id string, fn func(*queue.Job)) (*queue.Job, error)
	Persist(ctx context.Context, id string) error
}

// Publisher receives executor events.
type Publisher interface {
	Publish(typ events.Type, jobID string, data any) events.Event
}

// Executor runs jobs through their stages.
type Executor struct {
	cfg    *config.Config
	store  JobStore
	bus    Publisher
	stages stage.Registry
	logger *slog.Logger
	now    func() time.Time

	jobLogs JobLogFactory

	mu   sync.Mutex
	runs map[string]*run
}

// JobLogFactory returns a logger that also writes to a job's own log file,
// plus a function releasing that file.
type JobLogFactory func(job *queue.Job, base *slog.Logger) (*slog.Logger, func(), error)

type run struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
	last      float64
	stage     string
	started   time.Time
	sampler   *logging.ProgressSampler
	logger    *slog.Logger
}

// New constructs an executor.
func New(cfg *config.Config, store JobStore, bus Publisher, stages stage.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		stages: stages,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		now:    time.Now,
		runs:   make(map[string]*run),
	}
}

// SetJobLogs installs a per-job log factory. Must be called before Run.
func (e *Executor) SetJobLogs(factory JobLogFactory) {
	e.jobLogs = factory
}

// Active reports whether a run for jobID is in flight.
func (e *Executor) Active(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[jobID]
	return ok
}

// Cancel requests cancellation of a running job. The returned channel closes
// once the job has been finalized as cancelled. It returns nil when the job
// is not running.
func (e *Executor) Cancel(jobID string) <-chan struct{} {
	e.mu.Lock()
	r, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
	return r.done
}

// Run executes every stage of job and returns its final status. When the
// parent context is cancelled the job is left processing and ctx.Err() is
// returned.
func (e *Executor) Run(ctx context.Context, job *queue.Job) (queue.Status, error) {
	if job == nil {
		return "", services.Wrap(services.ErrValidation, "pipeline", "run", "nil job", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: e.now(),
		sampler: logging.NewProgressSampler(e.cfg.Pipeline.ProgressPersistPercent),
		logger:  e.logger,
	}
	if e.jobLogs != nil {
		jobLogger, release, err := e.jobLogs(job, e.logger)
		if err != nil {
			e.logger.Warn("job log unavailable; logging to daemon log only",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		} else {
			r.logger = jobLogger
			defer release()
		}
	}
	e.mu.Lock()
	if _, exists := e.runs[job.ID]; exists {
		e.mu.Unlock()
		cancel()
		return "", services.Wrap(services.ErrValidation, "pipeline", "run", "job already running "+job.ID, nil)
	}
	e.runs[job.ID] = r
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.runs, job.ID)
		e.mu.Unlock()
		close(r.done)
	}()

	jobCtx := services.WithJobID(runCtx, job.ID)
	if job.BatchID != "" {
		jobCtx = services.WithBatchID(jobCtx, job.BatchID)
	}
	logger := logging.WithContext(jobCtx, r.logger)
	plan := newWeightPlan(job.Stages, e.cfg.StageWeight)

	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("filename", job.Filename),
		logging.String("stages", strings.Join(job.Stages, ",")),
	)

	for i, name := range job.Stages {
		if status, done := e.interrupted(ctx, job.ID, r, logger); done {
			return status, ctx.Err()
		}
		stageErr := e.runStage(jobCtx, i, name, plan, job.ID, r)
		if status, done := e.interrupted(ctx, job.ID, r, logger); done {
			return status, ctx.Err()
		}
		if stageErr != nil {
			return e.fail(job.ID, name, r, stageErr, logger)
		}
	}
	return e.complete(job.ID, r, logger)
}

// interrupted handles user cancellation and shutdown between stages.
func (e *Executor) interrupted(parent context.Context, jobID string, r *run, logger *slog.Logger) (queue.Status, bool) {
	r.mu.Lock()
	cancelled := r.cancelled
	r.mu.Unlock()
	if cancelled {
		return e.finishCancelled(jobID, r, logger), true
	}
	if parent.Err() != nil {
		logger.Info("job interrupted by shutdown; left for recovery",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		if err := e.store.Persist(context.WithoutCancel(parent), jobID); err != nil {
			logger.Warn("persist interrupted job failed", logging.Error(err))
		}
		return queue.StatusProcessing, true
	}
	return "", false
}

func (e *Executor) runStage(ctx context.Context, index int, name string, plan weightPlan, jobID string, r *run) error {
	handler, ok := e.stages[name]
	if !ok {
		return services.Wrap(services.ErrConfiguration, name, "run", "no handler registered", nil)
	}
	stageCtx := services.WithStage(ctx, name)
	logger := logging.ForStage(logging.WithContext(stageCtx, r.logger), e.cfg.Logging.StageOverrides, name)
	job, err := e.store.Update(stageCtx, jobID, func(j *queue.Job) error {
		j.Stage = name
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist stage start: %w", err)
	}
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldProgressStage, stage.Label(name)),
	)
	e.emitProgress(jobID, name, plan.percent(index, 0), r, logger)

	in := stage.InputFor(job, name, e.cfg.JobWorkDir(jobID))
	in.Logger = logger
	out, err := handler.Run(stageCtx, in, func(fraction float64) {
		e.emitProgress(jobID, name, plan.percent(index, fraction), r, logger)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return nil
	}
	if len(out.Artifacts) > 0 {
		if _, err := e.store.Update(stageCtx, jobID, func(j *queue.Job) error {
			for key, ref := range out.Artifacts {
				j.SetArtifact(key, ref)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("persist artifacts: %w", err)
		}
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("artifacts", len(out.Artifacts)),
		logging.String("artifact_keys", strings.Join(sortedKeys(out.Artifacts), ",")),
	)
	return nil
}

// emitProgress updates the job and publishes a job_progress event unless the
// run is cancelled or the value would not advance.
func (e *Executor) emitProgress(jobID, stageName string, pct float64, r *run, logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return
	}
	stageChanged := stageName != r.stage
	if pct <= r.last && !stageChanged {
		return
	}
	pct = max(pct, r.last)
	r.last = pct
	r.stage = stageName

	if _, err := e.store.Mutate(jobID, func(j *queue.Job) {
		j.Stage = stageName
		j.Progress = pct
	}); err != nil {
		logger.Warn("progress update rejected", logging.Error(err))
		return
	}
	if r.sampler.ShouldLog(pct, stageName) {
		if err := e.store.Persist(context.Background(), jobID); err != nil {
			logger.Warn("progress persist failed", logging.Error(err))
		}
		logger.Debug("job progress",
			logging.String(logging.FieldProgressStage, stageName),
			logging.Float64(logging.FieldProgressPercent, pct),
		)
	}
	e.publish(events.TypeJobProgress, jobID, events.Progress{
		JobID:      jobID,
		Stage:      stageName,
		Progress:   pct,
		ETASeconds: estimateETA(e.now().Sub(r.started), pct),
		Message:    stage.Label(stageName),
	})
}

func (e *Executor) complete(jobID string, r *run, logger *slog.Logger) (queue.Status, error) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return e.finishCancelled(jobID, r, logger), nil
	}
	defer r.mu.Unlock()
	now := e.now().UTC()
	job, err := e.store.Update(context.Background(), jobID, func(j *queue.Job) error {
		j.Status = queue.StatusCompleted
		j.Progress = 100
		j.Stage = ""
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return queue.StatusProcessing, fmt.Errorf("persist completion: %w", err)
	}
	r.last = 100
	e.publish(events.TypeJobProgress, jobID, events.Progress{JobID: jobID, Stage: "", Progress: 100, Message: "Completed"})
	e.publish(events.TypeJobComplete, jobID, job)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("elapsed", now.Sub(r.started)),
		logging.Int("artifacts", len(job.ResultRefs)),
	)
	return queue.StatusCompleted, nil
}

func (e *Executor) fail(jobID, stageName string, r *run, stageErr error, logger *slog.Logger) (queue.Status, error) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return e.finishCancelled(jobID, r, logger), nil
	}
	defer r.mu.Unlock()
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		message = "stage failed"
	}
	now := e.now().UTC()
	job, err := e.store.Update(context.Background(), jobID, func(j *queue.Job) error {
		j.Status = queue.StatusFailed
		j.Error = message
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return queue.StatusProcessing, fmt.Errorf("persist failure: %w", err)
	}
	e.publish(events.TypeJobProgress, jobID, events.Progress{
		JobID:    jobID,
		Stage:    stageName,
		Progress: r.last,
		Message:  "Failed: " + message,
	})
	e.publish(events.TypeJobFailed, jobID, job)
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.String(logging.FieldStage, stageName),
		logging.String(logging.FieldErrorHint, "inspect the stage output and resubmit the file"),
		logging.Error(stageErr),
	)
	if !errors.Is(stageErr, services.ErrStageFailure) {
		stageErr = fmt.Errorf("%w: %s: %w", services.ErrStageFailure, stageName, stageErr)
	}
	return queue.StatusFailed, stageErr
}

// finishCancelled finalizes a user cancellation. Callers must not hold r.mu.
func (e *Executor) finishCancelled(jobID string, r *run, logger *slog.Logger) queue.Status {
	now := e.now().UTC()
	job, err := e.store.Update(context.Background(), jobID, func(j *queue.Job) error {
		j.Status = queue.StatusCancelled
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.Warn("persist cancellation failed", logging.Error(err))
		return queue.StatusProcessing
	}
	e.publish(events.TypeJobCancelled, jobID, job)
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.Float64(logging.FieldProgressPercent, job.Progress),
	)
	return queue.StatusCancelled
}

func (e *Executor) publish(typ events.Type, jobID string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(typ, jobID, data)
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
