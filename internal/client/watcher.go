package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mediaqueue/internal/api"
	"mediaqueue/internal/events"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/services"
)

const snapshotReadLimit = 32 << 20

// State is the watcher's connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLost         State = "connection_lost"
)

// WatcherOptions configures a Watcher. Only URL is required.
type WatcherOptions struct {
	// URL is the daemon base URL (http://host:port) or the full ws:// URL of
	// the event stream.
	URL        string
	Token      string
	Backoff    Backoff
	Projection *Projection
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnState observes connection state changes.
	OnState func(State)
	// OnEvent observes every event after it has been applied.
	OnEvent func(events.Envelope)
}

// Watcher keeps a Projection in sync with the daemon's event stream.
type Watcher struct {
	url        string
	token      string
	backoff    Backoff
	projection *Projection
	httpClient *http.Client
	logger     *slog.Logger
	onState    func(State)
	onEvent    func(events.Envelope)

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// NewWatcher builds a watcher. Call Run to connect.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	wsURL, err := StreamURL(opts.URL)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		url:        wsURL,
		token:      opts.Token,
		backoff:    opts.Backoff,
		projection: opts.Projection,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		onState:    opts.OnState,
		onEvent:    opts.OnEvent,
	}
	if w.projection == nil {
		w.projection = NewProjection()
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	if w.backoff.Base <= 0 {
		w.backoff = BackoffFromConfig(nil)
	}
	return w, nil
}

// StreamURL turns a daemon base URL into the event stream URL.
func StreamURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", services.Wrap(services.ErrConfiguration, "client", "watch", "daemon url is empty", nil)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "client", "watch", "invalid daemon url", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", services.Wrap(services.ErrConfiguration, "client", "watch", "unsupported scheme "+u.Scheme, nil)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/queue/ws"
	}
	return u.String(), nil
}

// Projection returns the view the watcher maintains.
func (w *Watcher) Projection() *Projection { return w.projection }

// State returns the current connection state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run connects and keeps reconnecting until ctx ends or the backoff policy
// is exhausted, in which case the error wraps services.ErrConnectionLost.
func (w *Watcher) Run(ctx context.Context) error {
	w.setState(StateConnecting)
	attempt := 0
	for {
		synced, err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			attempt = 0
		}
		attempt++
		delay, ok := w.backoff.Delay(attempt)
		if !ok {
			w.setState(StateLost)
			logging.ErrorWithContext(w.logger, "giving up on event stream", "watch_connection_lost",
				logging.Int("attempts", attempt-1),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the daemon is running and reachable"),
			)
			return services.Wrap(services.ErrConnectionLost, "client", "watch",
				fmt.Sprintf("no connection after %d attempts", attempt-1), err)
		}
		w.setState(StateReconnecting)
		w.logger.Info("event stream disconnected",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Error(err),
			logging.String(logging.FieldEventType, "watch_reconnect"),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection. synced reports whether an initial_state was
// received, which resets the attempt counter.
func (w *Watcher) session(ctx context.Context) (synced bool, err error) {
	opts := &websocket.DialOptions{HTTPClient: w.httpClient}
	if w.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.token}}
	}
	conn, resp, err := websocket.Dial(ctx, w.url, opts)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %s: %w", w.url, resp.Status, err)
		}
		return false, fmt.Errorf("dial %s: %w", w.url, err)
	}
	conn.SetReadLimit(snapshotReadLimit)
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.CloseNow()
	}()

	for {
		var env events.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return synced, fmt.Errorf("server closed stream (%d): %w", status, err)
			}
			return synced, err
		}
		if !synced && env.Type != events.TypeInitialState {
			continue
		}
		if _, err := w.projection.Apply(env); err != nil {
			w.logger.Warn("discarding malformed event",
				logging.String("type", string(env.Type)),
				logging.Uint64("seq", env.Seq),
				logging.Error(err),
				logging.String(logging.FieldEventType, "watch_bad_event"),
			)
			continue
		}
		if env.Type == events.TypeInitialState {
			synced = true
			w.setState(StateConnected)
			w.logger.Debug("event stream synced",
				logging.Uint64("seq", env.Seq),
				logging.Int("jobs", len(w.projection.Jobs())),
			)
		}
		if w.onEvent != nil {
			w.onEvent(env)
		}
	}
}

// Reorder sends a reorder command over the live connection. Rejections
// arrive asynchronously as command_error events.
func (w *Watcher) Reorder(ctx context.Context, jobIDs []string) error {
	return w.send(ctx, gateway.NewReorder(jobIDs))
}

// SetPriority sends a set_priority command over the live connection.
func (w *Watcher) SetPriority(ctx context.Context, jobID string, priority int) error {
	return w.send(ctx, gateway.NewSetPriority(jobID, priority))
}

func (w *Watcher) send(ctx context.Context, msg gateway.ClientMessage) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return services.Wrap(services.ErrTransient, "client", "send", "event stream not connected", nil)
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil && !errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrTransient, "client", "send", msg.Type, err)
	}
	return nil
}

func (w *Watcher) setState(state State) {
	w.mu.Lock()
	changed := w.state != state
	w.state = state
	w.mu.Unlock()
	if changed && w.onState != nil {
		w.onState(state)
	}
}

// Snapshot returns the projection as a queue snapshot.
func (w *Watcher) Snapshot() api.QueueSnapshot {
	jobs := w.projection.Jobs()
	counts := make(map[string]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	return api.QueueSnapshot{Seq: w.projection.Seq(), Counts: counts, Total: len(jobs), Jobs: jobs}
}
