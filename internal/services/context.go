package services

import "context"

type ctxKey int

const (
	jobIDKey ctxKey = iota
	batchIDKey
	stageKey
	slotKey
	requestIDKey
)

// withValue stores v unless it is the zero value, so empty ids never mask
// an outer scope.
func withValue[T comparable](ctx context.Context, key ctxKey, v T) context.Context {
	var zero T
	if v == zero {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func value[T comparable](ctx context.Context, key ctxKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	var zero T
	return v, ok && v != zero
}

// WithJobID scopes ctx to a job.
func WithJobID(ctx context.Context, id string) context.Context { return withValue(ctx, jobIDKey, id) }

// JobIDFromContext returns the job id set by WithJobID.
func JobIDFromContext(ctx context.Context) (string, bool) { return value[string](ctx, jobIDKey) }

// WithBatchID scopes ctx to the batch owning the job.
func WithBatchID(ctx context.Context, id string) context.Context {
	return withValue(ctx, batchIDKey, id)
}

func BatchIDFromContext(ctx context.Context) (string, bool) { return value[string](ctx, batchIDKey) }

// WithStage scopes ctx to a pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return value[string](ctx, stageKey) }

// WithSlot records the 1-based scheduler slot running the job. Values below
// one are ignored.
func WithSlot(ctx context.Context, slot int) context.Context {
	if slot < 1 {
		return ctx
	}
	return withValue(ctx, slotKey, slot)
}

func SlotFromContext(ctx context.Context) (int, bool) { return value[int](ctx, slotKey) }

// WithRequestID attaches a correlation id for one API or IPC request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return value[string](ctx, requestIDKey)
}
