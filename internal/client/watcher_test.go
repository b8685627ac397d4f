package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaqueue/internal/api"
	"mediaqueue/internal/client"
	"mediaqueue/internal/events"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/services"
	"mediaqueue/internal/testsupport"
)

// daemonStub serves the event stream from a gateway that can be replaced to
// simulate a daemon restart.
type daemonStub struct {
	t       *testing.T
	bus     *events.Bus
	current atomic.Pointer[gateway.Gateway]
	stop    context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	progress float64
}

func newDaemonStub(t *testing.T) (*daemonStub, *httptest.Server) {
	t.Helper()
	d := &daemonStub{t: t, bus: events.NewBus(0, nil)}
	d.start()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.current.Load().ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		d.stop()
		<-d.done
		srv.Close()
	})
	return d, srv
}

func (d *daemonStub) snapshot() api.QueueSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return api.QueueSnapshot{
		Seq:    d.bus.Seq(),
		Counts: map[string]int{"processing": 1},
		Total:  1,
		Jobs:   []api.Job{{ID: "job-1", Status: "processing", Stage: "transcribe", Progress: d.progress}},
	}
}

func (d *daemonStub) start() {
	cfg := testsupport.NewConfig(d.t)
	g := gateway.New(cfg, d.bus, d.snapshot, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	before := d.bus.Subscribers()
	go func() {
		defer close(done)
		g.Run(ctx)
	}()
	waitUntil(d.t, func() bool { return d.bus.Subscribers() > before })
	d.current.Store(g)
	d.stop = cancel
	d.done = done
}

// restart shuts the live gateway down, dropping its clients, and installs a
// fresh one.
func (d *daemonStub) restart() {
	d.stop()
	<-d.done
	d.start()
}

func (d *daemonStub) advance(progress float64) {
	d.mu.Lock()
	d.progress = progress
	d.mu.Unlock()
	d.bus.Publish(events.TypeJobProgress, "job-1", events.Progress{JobID: "job-1", Stage: "transcribe", Progress: progress})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []client.State
}

func (s *stateLog) record(state client.State) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *stateLog) count(state client.State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.states {
		if st == state {
			n++
		}
	}
	return n
}

func TestWatcherResyncsAfterReconnect(t *testing.T) {
	stub, srv := newDaemonStub(t)
	stub.advance(40)

	var (
		mu       sync.Mutex
		observed []float64
	)
	states := &stateLog{}
	var watcher *client.Watcher
	watcher, err := client.NewWatcher(client.WatcherOptions{
		URL:     srv.URL,
		Backoff: client.Backoff{Base: 10 * time.Millisecond, Multiplier: 2, Max: 50 * time.Millisecond, MaxAttempts: 20},
		OnState: states.record,
		OnEvent: func(events.Envelope) {
			if job, ok := watcher.Projection().Job("job-1"); ok {
				mu.Lock()
				observed = append(observed, job.Progress)
				mu.Unlock()
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- watcher.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-runErr
	})

	waitUntil(t, func() bool { return watcher.State() == client.StateConnected })
	stub.advance(60)
	waitUntil(t, func() bool { job, _ := watcher.Projection().Job("job-1"); return job.Progress == 60 })

	stub.restart()
	stub.advance(80)
	waitUntil(t, func() bool { return states.count(client.StateConnected) >= 2 })
	waitUntil(t, func() bool { return watcher.State() == client.StateConnected })
	stub.advance(90)
	waitUntil(t, func() bool { job, _ := watcher.Projection().Job("job-1"); return job.Progress == 90 })

	if states.count(client.StateReconnecting) == 0 {
		t.Fatal("expected a reconnecting state")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Fatalf("progress regressed: %v", observed)
		}
	}
	if watcher.Projection().Seq() != stub.bus.Seq() {
		t.Fatalf("projection at seq %d, bus at %d", watcher.Projection().Seq(), stub.bus.Seq())
	}
}

func TestWatcherReportsConnectionLost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	states := &stateLog{}
	watcher, err := client.NewWatcher(client.WatcherOptions{
		URL:     srv.URL,
		Backoff: client.Backoff{Base: time.Millisecond, Multiplier: 2, Max: 4 * time.Millisecond, MaxAttempts: 3},
		OnState: states.record,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = watcher.Run(ctx)
	if !errors.Is(err, services.ErrConnectionLost) {
		t.Fatalf("expected connection lost, got %v", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("expected initial dial plus 3 retries, got %d", hits.Load())
	}
	if watcher.State() != client.StateLost || states.count(client.StateLost) != 1 {
		t.Fatalf("unexpected final state %s", watcher.State())
	}
}

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7487":          "ws://127.0.0.1:7487/api/queue/ws",
		"https://queue.local":     "wss://queue.local/api/queue/ws",
		"ws://host:1/custom/path": "ws://host:1/custom/path",
	}
	for in, want := range cases {
		got, err := client.StreamURL(in)
		if err != nil || got != want {
			t.Fatalf("StreamURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := client.StreamURL("ftp://x"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
