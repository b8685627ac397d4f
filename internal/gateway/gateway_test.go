package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mediaqueue/internal/api"
	"mediaqueue/internal/events"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/testsupport"
)

type stubCommands struct {
	mu      sync.Mutex
	reorder [][]string
	fail    error
}

func (s *stubCommands) Reorder(_ context.Context, jobIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.reorder = append(s.reorder, jobIDs)
	return nil
}

func (s *stubCommands) SetPriority(context.Context, string, int) error {
	return services.Wrap(services.ErrValidation, "scheduler", "set priority", "priority 42 outside 1-10", nil)
}

func (s *stubCommands) calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.reorder...)
}

type fixture struct {
	bus      *events.Bus
	gateway  *Gateway
	commands *stubCommands
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Gateway.PingIntervalSeconds = 1
	bus := events.NewBus(0, nil)
	cmds := &stubCommands{}
	g := New(cfg, bus, func() api.QueueSnapshot {
		return api.QueueSnapshot{Seq: bus.Seq(), Counts: map[string]int{}, Jobs: []api.Job{}}
	}, cmds, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()
	srv := httptest.NewServer(g)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("gateway never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	return &fixture{bus: bus, gateway: g, commands: cmds, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) events.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var env events.Envelope
	if err := wsjson.Read(ctx, ws, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// readUntil skips keepalive pings.
func readUntil(t *testing.T, ws *websocket.Conn, typ events.Type) events.Envelope {
	t.Helper()
	for {
		env := read(t, ws)
		if env.Type == events.TypePing && typ != events.TypePing {
			continue
		}
		if env.Type != typ {
			t.Fatalf("expected %s, got %s", typ, env.Type)
		}
		return env
	}
}

func send(t *testing.T, ws *websocket.Conn, msg ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestInitialStateThenNewerEvents(t *testing.T) {
	f := newFixture(t)
	f.bus.Publish(events.TypeJobQueued, "old", &queue.Job{ID: "old", Status: queue.StatusQueued})

	ws := f.dial(t)
	initial := readUntil(t, ws, events.TypeInitialState)
	if initial.Seq != 1 {
		t.Fatalf("expected snapshot seq 1, got %d", initial.Seq)
	}
	var snap api.QueueSnapshot
	if err := json.Unmarshal(initial.Data, &snap); err != nil || snap.Seq != 1 {
		t.Fatalf("unexpected snapshot payload %s: %v", initial.Data, err)
	}

	f.bus.Publish(events.TypeJobComplete, "new", &queue.Job{ID: "new", Status: queue.StatusCompleted})
	env := readUntil(t, ws, events.TypeJobComplete)
	if env.Seq != 2 || env.JobID != "new" {
		t.Fatalf("unexpected event: %+v", env)
	}
	var job api.Job
	if err := json.Unmarshal(env.Data, &job); err != nil || job.StatusLabel != "Completed" {
		t.Fatalf("expected job DTO payload, got %s", env.Data)
	}
}

func TestEventsArriveInOrderForEveryClient(t *testing.T) {
	f := newFixture(t)
	a, b := f.dial(t), f.dial(t)
	readUntil(t, a, events.TypeInitialState)
	readUntil(t, b, events.TypeInitialState)

	for i := 1; i <= 20; i++ {
		f.bus.Publish(events.TypeJobProgress, "j", events.Progress{JobID: "j", Progress: float64(i)})
	}
	for _, ws := range []*websocket.Conn{a, b} {
		last := uint64(0)
		for range 20 {
			env := readUntil(t, ws, events.TypeJobProgress)
			if env.Seq <= last {
				t.Fatalf("out of order: %d after %d", env.Seq, last)
			}
			last = env.Seq
		}
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, events.TypeInitialState)
	send(t, ws, ClientMessage{Type: CommandPing})
	if env := readUntil(t, ws, events.TypePong); env.Seq != 0 {
		t.Fatalf("pong must not carry a bus sequence, got %d", env.Seq)
	}
}

func TestServerSendsKeepalivePing(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, events.TypeInitialState)
	if env := read(t, ws); env.Type != events.TypePing {
		t.Fatalf("expected ping, got %s", env.Type)
	}
}

func TestReorderCommandForwarded(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, events.TypeInitialState)

	send(t, ws, NewReorder([]string{"c", "a", "b"}))
	deadline := time.Now().Add(2 * time.Second)
	for len(f.commands.calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reorder never reached the workflow")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := strings.Join(f.commands.calls()[0], ","); got != "c,a,b" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestRejectedCommandAnsweredOnlyToSender(t *testing.T) {
	f := newFixture(t)
	sender, other := f.dial(t), f.dial(t)
	readUntil(t, sender, events.TypeInitialState)
	readUntil(t, other, events.TypeInitialState)

	send(t, sender, NewSetPriority("j", 42))
	env := readUntil(t, sender, events.TypeCommandError)
	var payload events.CommandError
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Command != CommandSetPriority || payload.Kind != "validation" {
		t.Fatalf("unexpected command error: %+v", payload)
	}

	f.bus.Publish(events.TypeJobQueued, "marker", &queue.Job{ID: "marker"})
	if env := readUntil(t, other, events.TypeJobQueued); env.JobID != "marker" {
		t.Fatalf("expected marker event, got %+v", env)
	}

	send(t, sender, ClientMessage{Type: "explode"})
	readUntil(t, sender, events.TypeJobQueued)
	env = readUntil(t, sender, events.TypeCommandError)
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Command != "explode" {
		t.Fatalf("unexpected unknown-command reply: %s", env.Data)
	}
}

func TestBroadcastDropsOnlySlowConnection(t *testing.T) {
	g := New(nil, events.NewBus(0, nil), nil, nil, nil)
	slow := newConn(nil, "slow", "", 1)
	fast := newConn(nil, "fast", "", 8)
	g.register(slow)
	g.register(fast)

	g.Broadcast(events.Event{Type: events.TypeJobProgress, Seq: 1})
	g.Broadcast(events.Event{Type: events.TypeJobProgress, Seq: 2})

	if g.Connections() != 1 {
		t.Fatalf("expected only the fast connection to remain, got %d", g.Connections())
	}
	select {
	case <-slow.done:
	default:
		t.Fatal("expected slow connection to be signalled")
	}
	if code, reason := slow.closeStatus(); code != websocket.StatusPolicyViolation || reason != "slow consumer" {
		t.Fatalf("unexpected close status %v %q", code, reason)
	}
	if len(fast.out) != 2 {
		t.Fatalf("expected fast connection to hold both events, got %d", len(fast.out))
	}
}

func TestShutdownRejectsNewConnections(t *testing.T) {
	g := New(nil, events.NewBus(0, nil), nil, nil, nil)
	c := newConn(nil, "c", "", 1)
	g.register(c)
	g.Shutdown()
	if g.Connections() != 0 {
		t.Fatal("expected no connections after shutdown")
	}
	if g.register(newConn(nil, "late", "", 1)) {
		t.Fatal("expected registration to fail after shutdown")
	}
}
