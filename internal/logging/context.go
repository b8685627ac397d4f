package logging

import (
	"context"
	"log/slog"

	"mediaqueue/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent     = "component"
	FieldJobID         = "job_id"
	FieldBatchID       = "batch_id"
	FieldStage         = "stage"
	FieldSlot          = "slot"
	FieldCorrelationID = "correlation_id"

	// FieldEventType names what happened (job_queued, stage_complete, ...).
	FieldEventType = "event_type"
	// FieldErrorHint is the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact is what a warning costs the user.
	FieldImpact = "impact"

	FieldProgressStage   = "progress_stage"
	FieldProgressPercent = "progress_percent"
)

// WithContext adds the job, batch, stage, slot and request ids carried by
// ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var attrs []any
	if id, ok := services.JobIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String(FieldJobID, id))
	}
	if id, ok := services.BatchIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String(FieldBatchID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		attrs = append(attrs, slog.String(FieldStage, stage))
	}
	if slot, ok := services.SlotFromContext(ctx); ok {
		attrs = append(attrs, slog.Int(FieldSlot, slot))
	}
	if id, ok := services.RequestIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String(FieldCorrelationID, id))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
