package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mediaqueue/internal/api"
	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/services"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultBuffer       = 256
	readLimit           = 64 << 10
)

// Commands is the part of the workflow clients may drive.
type Commands interface {
	Reorder(ctx context.Context, jobIDs []string) error
	SetPriority(ctx context.Context, jobID string, priority int) error
}

// SnapshotFunc returns the current queue snapshot.
type SnapshotFunc func() api.QueueSnapshot

// Gateway owns the live connection set.
type Gateway struct {
	bus      *events.Bus
	snapshot SnapshotFunc
	commands Commands
	logger   *slog.Logger

	pingInterval time.Duration
	writeTimeout time.Duration
	buffer       int
	origins      []string

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool

	broadcasts atomic.Uint64
}

// New builds a gateway. Call Run to start pumping bus events.
func New(cfg *config.Config, bus *events.Bus, snapshot SnapshotFunc, commands Commands, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Gateway{
		bus:          bus,
		snapshot:     snapshot,
		commands:     commands,
		logger:       logging.NewComponentLogger(logger, "gateway"),
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
		buffer:       defaultBuffer,
		conns:        make(map[*conn]struct{}),
	}
	if cfg != nil {
		if d := cfg.PingInterval(); d > 0 {
			g.pingInterval = d
		}
		if d := cfg.WriteTimeout(); d > 0 {
			g.writeTimeout = d
		}
		if cfg.Gateway.SubscriberBuffer > 0 {
			g.buffer = cfg.Gateway.SubscriberBuffer
		}
		g.origins = append(g.origins, cfg.Gateway.AllowedOrigins...)
	}
	return g
}

// Run feeds bus events to Broadcast until ctx ends. If the gateway's own
// subscription falls behind, every client is disconnected so it resyncs from
// a fresh snapshot.
func (g *Gateway) Run(ctx context.Context) {
	for {
		sub := g.bus.Subscribe(g.buffer * 4)
		g.pump(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			g.Shutdown()
			return
		}
		logging.WarnWithContext(g.logger, "gateway fell behind the event bus", "gateway_resync",
			logging.Int("connections", g.Connections()),
			logging.String(logging.FieldImpact, "clients reconnect and reload the snapshot"),
		)
		g.closeAll(websocket.StatusTryAgainLater, "resync")
	}
}

func (g *Gateway) pump(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			g.Broadcast(evt)
		}
	}
}

// Broadcast queues evt on every connection. Connections whose queue is full
// are dropped.
func (g *Gateway) Broadcast(evt events.Event) {
	evt = api.WireEvent(evt)
	g.broadcasts.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.conns {
		if !c.enqueue(evt) {
			delete(g.conns, c)
			g.logger.Warn("dropping slow client",
				logging.String(logging.FieldCorrelationID, c.id),
				logging.String("remote", c.remote),
				logging.Uint64("seq", evt.Seq),
				logging.String(logging.FieldEventType, "client_dropped"),
				logging.String(logging.FieldImpact, "client must reconnect"),
			)
		}
	}
}

// Connections reports the live connection count.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every connection and rejects new ones.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.closeAll(websocket.StatusGoingAway, "server shutting down")
}

func (g *Gateway) closeAll(code websocket.StatusCode, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.conns {
		c.drop(code, reason)
		delete(g.conns, c)
	}
}

func (g *Gateway) register(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c] = struct{}{}
	return true
}

func (g *Gateway) unregister(c *conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until the client leaves
// or is dropped.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(g.origins) > 0 {
		opts.OriginPatterns = g.origins
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.logger.Warn("websocket accept failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ws_accept_failed"),
		)
		return
	}
	ws.SetReadLimit(readLimit)

	c := newConn(ws, uuid.NewString(), r.RemoteAddr, g.buffer)
	if !g.register(c) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	// The snapshot is taken after registration so every event newer than
	// its sequence is already headed for this connection's queue.
	snap := g.snapshot()

	logger := g.logger.With(logging.String(logging.FieldCorrelationID, c.id))
	logger.Info("client connected",
		logging.String("remote", c.remote),
		logging.Uint64("seq", snap.Seq),
		logging.Int("connections", g.Connections()),
		logging.String(logging.FieldEventType, "client_connected"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, c, snap, logger)
	}()

	g.readLoop(ctx, c, logger)

	g.unregister(c)
	c.drop(websocket.StatusNormalClosure, "")
	cancel()
	<-writerDone
	logger.Info("client disconnected",
		logging.String("remote", c.remote),
		logging.String(logging.FieldEventType, "client_disconnected"),
	)
}

func (g *Gateway) writeLoop(ctx context.Context, c *conn, snap api.QueueSnapshot, logger *slog.Logger) {
	initial := events.Event{Type: events.TypeInitialState, Seq: snap.Seq, Timestamp: time.Now().UTC(), Data: snap}
	if err := g.write(ctx, c, initial); err != nil {
		logger.Debug("initial state write failed", logging.Error(err))
		c.ws.CloseNow()
		return
	}
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.ws.CloseNow()
			return
		case <-c.done:
			code, reason := c.closeStatus()
			_ = c.ws.Close(code, reason)
			return
		case evt := <-c.out:
			// Events already reflected in the snapshot.
			if evt.Seq != 0 && evt.Seq <= snap.Seq {
				continue
			}
			if err := g.write(ctx, c, evt); err != nil {
				logger.Warn("client write failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "client_write_failed"),
				)
				c.ws.CloseNow()
				return
			}
		case now := <-ticker.C:
			if err := g.write(ctx, c, events.Event{Type: events.TypePing, Timestamp: now.UTC()}); err != nil {
				c.ws.CloseNow()
				return
			}
		}
	}
}

func (g *Gateway) write(ctx context.Context, c *conn, evt events.Event) error {
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, evt)
}

func (g *Gateway) readLoop(ctx context.Context, c *conn, logger *slog.Logger) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				logger.Debug("client read ended", logging.Error(err))
			}
			return
		}
		g.handle(ctx, c, msg, logger)
	}
}

func (g *Gateway) handle(ctx context.Context, c *conn, msg ClientMessage, logger *slog.Logger) {
	var err error
	switch msg.Type {
	case CommandPing:
		c.enqueue(localEvent(events.TypePong, nil))
		return
	case CommandReorder:
		var cmd ReorderCommand
		if err = decode(msg.Data, &cmd); err == nil {
			err = g.commands.Reorder(ctx, cmd.JobIDs)
		}
	case CommandSetPriority:
		var cmd SetPriorityCommand
		if err = decode(msg.Data, &cmd); err == nil {
			err = g.commands.SetPriority(ctx, cmd.JobID, cmd.Priority)
		}
	default:
		err = services.Wrap(services.ErrValidation, "gateway", "command", "unknown command "+msg.Type, nil)
	}
	if err == nil {
		return
	}
	logger.Info("client command rejected",
		logging.String("command", msg.Type),
		logging.Error(err),
		logging.String(logging.FieldEventType, "command_rejected"),
	)
	c.enqueue(localEvent(events.TypeCommandError, events.CommandError{
		Command: msg.Type,
		Kind:    services.Kind(err),
		Error:   err.Error(),
	}))
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return services.Wrap(services.ErrValidation, "gateway", "command", "missing command data", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return services.Wrap(services.ErrValidation, "gateway", "command", "malformed command data", err)
	}
	return nil
}
