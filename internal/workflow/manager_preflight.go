package workflow

import (
	"context"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/preflight"
)

// runPreflightChecks records and logs environment checks. A failure is only
// a warning; a missing stage tool fails the jobs that reach that stage.
func (m *Manager) runPreflightChecks(ctx context.Context) {
	results := preflight.RunAll(ctx, m.cfg)
	m.mu.Lock()
	m.checks = results
	m.mu.Unlock()

	failed := preflight.Failed(results)
	for _, r := range failed {
		m.logger.Warn("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
		)
	}
	m.logger.Debug("preflight finished",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(failed)),
		logging.String(logging.FieldEventType, "preflight_done"),
	)
}

// Preflight returns the checks from the most recent Start.
func (m *Manager) Preflight() []preflight.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]preflight.Result(nil), m.checks...)
}
