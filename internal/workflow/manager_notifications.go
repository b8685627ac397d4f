package workflow

import (
	"context"
	"errors"
	"time"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/notifications"
	"mediaqueue/internal/queue"
)

func (m *Manager) onJobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueActive {
		return
	}
	m.queueActive = true
	m.queueStart = m.now()
	m.queueCompleted = 0
	m.queueFailed = 0
}

func (m *Manager) onJobFinished(ctx context.Context, job *queue.Job, runErr error) {
	m.mu.Lock()
	switch job.Status {
	case queue.StatusCompleted:
		m.queueCompleted++
	case queue.StatusFailed:
		m.queueFailed++
	}
	m.mu.Unlock()

	if job.Status == queue.StatusFailed {
		m.recordOutcome(nil, runErr)
		m.publishNotification(ctx, notifications.EventJobFailed, notifications.Payload{
			"filename": job.Filename,
			"stage":    job.Stage,
			"error":    job.Error,
		})
	}
	if job.BatchID != "" {
		m.checkBatchCompletion(ctx, job.BatchID)
	}
	m.checkQueueCompletion(ctx)
}

func (m *Manager) checkBatchCompletion(ctx context.Context, batchID string) {
	view, err := m.batches.Get(batchID)
	if err != nil || !view.Finished() {
		return
	}
	m.mu.Lock()
	if _, done := m.notified[batchID]; done {
		m.mu.Unlock()
		return
	}
	m.notified[batchID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("batch finished",
		logging.String(logging.FieldBatchID, batchID),
		logging.String("status", string(view.Status)),
		logging.Int("completed", view.CompletedFiles),
		logging.Int("failed", view.FailedFiles),
		logging.String(logging.FieldEventType, "batch_finished"),
	)
	m.publishNotification(ctx, notifications.EventBatchCompleted, notifications.Payload{
		"name":      view.Name,
		"completed": view.CompletedFiles,
		"total":     view.TotalFiles,
		"status":    string(view.Status),
	})
}

func (m *Manager) checkQueueCompletion(ctx context.Context) {
	if _, busy := m.sched.Slots(); busy > 0 || m.sched.Len() > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	completed, failed := m.queueCompleted, m.queueFailed
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = m.now().Sub(start)
	}
	m.logger.Info("queue drained",
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Duration("elapsed", duration),
		logging.String(logging.FieldEventType, "queue_drained"),
	)
	m.publishNotification(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"completed": completed,
		"failed":    failed,
		"duration":  duration,
	})
}

func (m *Manager) publishNotification(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		m.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
