package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
)

// Start recovers interrupted jobs, re-admits queued jobs in creation order,
// and launches one loop per slot.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	reset, err := m.store.ResetInterrupted(ctx)
	if err != nil {
		m.mu.Unlock()
		return services.Wrap(services.ErrTransient, "workflow", "start", "reset interrupted jobs", err)
	}
	if reset > 0 {
		m.logger.Info("re-queued jobs interrupted by shutdown",
			logging.Int("count", reset),
			logging.String(logging.FieldEventType, "jobs_recovered"),
		)
	}
	admitted := 0
	for _, job := range m.store.ListByStatus(queue.StatusQueued) {
		if err := m.sched.Enqueue(job); err != nil {
			if errors.Is(err, services.ErrAdmission) {
				continue
			}
			m.mu.Unlock()
			return err
		}
		admitted++
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	slots, _ := m.sched.Slots()
	m.wg.Add(slots)
	m.mu.Unlock()

	m.runPreflightChecks(ctx)
	m.logger.Info("workflow started",
		logging.Int("slots", slots),
		logging.Int("queued", admitted),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	for slot := 1; slot <= slots; slot++ {
		go m.runSlot(runCtx, slot)
	}
	return nil
}

// Stop terminates background processing and waits for completion. Jobs in
// flight stay processing and are re-queued by the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

// Running reports whether slot loops are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) runSlot(ctx context.Context, slot int) {
	defer m.wg.Done()
	slotCtx := services.WithSlot(ctx, slot)
	logger := logging.WithContext(slotCtx, m.logger)

	for {
		if ctx.Err() != nil {
			return
		}

		// Take the wake channel before polling so a change between the
		// poll and the wait is not missed.
		wake := m.sched.Wait()
		job, err := m.sched.NextEligible(slotCtx)
		if err != nil {
			m.handleNextJobError(ctx, logger, err)
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
			continue
		}

		m.processJob(slotCtx, logger, job)
	}
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	m.recordOutcome(job, nil)
	m.onJobStarted()

	status, err := m.exec.Run(ctx, job)
	m.sched.Release(job.ID)
	if ctx.Err() != nil && status == queue.StatusProcessing {
		return
	}
	if err != nil && status != queue.StatusFailed {
		m.recordOutcome(nil, err)
		logger.Error("job run did not finish cleanly",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_run_error"),
			logging.String(logging.FieldErrorHint, "check job store persistence"),
		)
	}

	final, getErr := m.store.Get(job.ID)
	if getErr != nil {
		final = job
		final.Status = status
	}
	m.recordOutcome(final, nil)
	m.onJobFinished(context.WithoutCancel(ctx), final, err)
}

func (m *Manager) handleNextJobError(ctx context.Context, logger *slog.Logger, err error) {
	m.recordOutcome(nil, err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check job store access"),
	)
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}
