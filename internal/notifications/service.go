package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaqueue/internal/config"
)

const (
	userAgent      = "mediaqueue/0.1"
	defaultTimeout = 10 * time.Second
)

// Event names a notification.
type Event string

const (
	EventJobFailed      Event = "job_failed"
	EventQueueCompleted Event = "queue_completed"
	EventBatchCompleted Event = "batch_completed"
	EventTest           Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy publisher, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	n := cfg.Notifications
	topic := strings.TrimSpace(n.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ntfyService{
		topic:  topic,
		client: &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobFailed:      n.JobFailures,
			EventQueueCompleted: n.QueueDrained,
			EventBatchCompleted: n.Batches,
			EventTest:           true,
		},
	}
}

// message is one ntfy post. Priority "" leaves the server default.
type message struct {
	title, body, priority string
	tags                  []string
}

var formatters = map[Event]func(Payload) message{
	EventJobFailed:      jobFailed,
	EventQueueCompleted: queueDrained,
	EventBatchCompleted: batchFinished,
	EventTest: func(Payload) message {
		return message{title: "mediaqueue - Test", body: "🧪 Notification system test", priority: "low", tags: []string{"mediaqueue", "test"}}
	},
}

func jobFailed(p Payload) message {
	reason := p.str("error")
	if reason == "" {
		reason = "unknown error"
	}
	body := "❌ " + p.str("filename") + " failed"
	if stage := p.str("stage"); stage != "" {
		body += " during " + stage
	}
	return message{
		title:    "mediaqueue - Job Failed",
		body:     body + ": " + reason,
		priority: "high",
		tags:     []string{"mediaqueue", "job", "failed"},
	}
}

func queueDrained(p Payload) message {
	took, _ := p["duration"].(time.Duration)
	took = max(took.Round(time.Second), 0)
	completed, failed := p.num("completed"), p.num("failed")
	m := message{
		title: "mediaqueue - Queue Drained",
		body:  fmt.Sprintf("Queue drained: %d jobs finished in %s", completed, took),
		tags:  []string{"mediaqueue", "queue", "completed"},
	}
	if failed > 0 {
		m.title += " (with errors)"
		m.body = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", completed, failed, took)
	}
	return m
}

func batchFinished(p Payload) message {
	return message{
		title: "mediaqueue - Batch Finished",
		body:  fmt.Sprintf("📦 %s: %d/%d transcribed (%s)", p.str("name"), p.num("completed"), p.num("total"), p.str("status")),
		tags:  []string{"mediaqueue", "batch", "completed"},
	}
}

func (p Payload) str(key string) string {
	var s string
	switch v := p[key].(type) {
	case nil:
	case string:
		s = v
	case error:
		s = v.Error()
	default:
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(s)
}

func (p Payload) num(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

type ntfyService struct {
	topic   string
	client  *http.Client
	enabled map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, p Payload) error {
	format, ok := formatters[event]
	if !ok || !n.enabled[event] {
		return nil
	}
	return n.post(ctx, format(p))
}

func (n *ntfyService) post(ctx context.Context, m message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topic, strings.NewReader(m.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	h := req.Header
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Title", m.title)
	if len(m.tags) > 0 {
		h.Set("Tags", strings.Join(m.tags, ","))
	}
	if m.priority != "" {
		h.Set("Priority", m.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
