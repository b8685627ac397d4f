package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is one record as held by a StreamHub and served to log tails.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	BatchID       string            `json:"batch_id,omitempty"`
	Slot          int64             `json:"slot,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in a fixed ring. Sequences start
// at 1 and never repeat for the life of the hub.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	start   int
	size    int
	lastSeq uint64
	// wake is closed and replaced on every publish.
	wake chan struct{}
}

// NewStreamHub returns a hub holding up to capacity events (512 if unset).
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{ring: make([]LogEvent, capacity), wake: make(chan struct{})}
}

// Publish stamps evt with the next sequence and stores it, evicting the
// oldest event when full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = evt
		h.size++
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % capacity
	}
	close(h.wake)
	h.wake = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to limit events newer than since, plus the latest
// sequence. With wait set it blocks until something newer arrives or ctx
// ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		h.mu.Lock()
		events := h.collect(since, limit)
		next, wake := h.lastSeq, h.wake
		h.mu.Unlock()
		if len(events) > 0 || !wait {
			return events, next, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-wake:
		}
	}
}

// Tail returns the newest limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	out := make([]LogEvent, 0, limit)
	for i := h.size - limit; i < h.size; i++ {
		out = append(out, h.at(i))
	}
	return out, h.lastSeq
}

// FirstSequence is the oldest sequence still held, or the latest sequence
// when the hub is empty.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return h.lastSeq
	}
	return h.at(0).Sequence
}

func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.start+i)%len(h.ring)]
}

func (h *StreamHub) collect(since uint64, limit int) []LogEvent {
	if h.size == 0 || h.lastSeq <= since {
		return nil
	}
	if limit <= 0 || limit > len(h.ring) {
		limit = len(h.ring)
	}
	first := h.at(0).Sequence
	skip := 0
	if since >= first {
		skip = int(since - first + 1)
	}
	n := min(h.size-skip, limit)
	out := make([]LogEvent, 0, n)
	for i := skip; i < skip+n; i++ {
		out = append(out, h.at(i))
	}
	return out
}

// hubHandler publishes every record it sees before passing it on.
type hubHandler struct {
	next   slog.Handler
	hub    *StreamHub
	preset []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &hubHandler{next: next, hub: hub}
}

func (h *hubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *hubHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(toEvent(record, h.preset))
	return h.next.Handle(ctx, record)
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := make([]slog.Attr, 0, len(h.preset)+len(attrs))
	preset = append(append(preset, h.preset...), attrs...)
	return &hubHandler{next: h.next.WithAttrs(attrs), hub: h.hub, preset: preset}
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	return &hubHandler{next: h.next.WithGroup(name), hub: h.hub, preset: h.preset}
}

func toEvent(record slog.Record, preset []slog.Attr) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time.UTC(),
		Level:     strings.ToLower(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	apply := func(attr slog.Attr) bool {
		key := strings.TrimSpace(attr.Key)
		if key == "" {
			return true
		}
		text := valueText(attr.Value)
		switch key {
		case FieldComponent:
			evt.Component = text
		case FieldJobID:
			evt.JobID = text
		case FieldBatchID:
			evt.BatchID = text
		case FieldStage:
			evt.Stage = text
		case FieldCorrelationID:
			evt.CorrelationID = text
		case FieldSlot:
			if v := attr.Value.Resolve(); v.Kind() == slog.KindInt64 {
				evt.Slot = v.Int64()
			}
		default:
			if evt.Fields == nil {
				evt.Fields = make(map[string]string)
			}
			evt.Fields[key] = text
		}
		return true
	}
	for _, attr := range preset {
		apply(attr)
	}
	record.Attrs(apply)
	return evt
}
