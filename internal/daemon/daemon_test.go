package daemon_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"mediaqueue/internal/api"
	"mediaqueue/internal/batch"
	"mediaqueue/internal/client"
	"mediaqueue/internal/config"
	"mediaqueue/internal/daemon"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/services"
	"mediaqueue/internal/testsupport"
	"mediaqueue/internal/workflow"
)

func newDaemon(t *testing.T, mutate func(*config.Config)) (*daemon.Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	hub := logging.NewStreamHub(256)
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Writer: &bytes.Buffer{}, Stream: hub})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	mgr := workflow.NewManager(cfg, store, logger)
	d, err := daemon.New(cfg, store, logger, mgr, hub)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, cfg
}

func startDaemon(t *testing.T, d *daemon.Daemon, token string) *client.APIClient {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := client.NewAPIClient(d.APIAddr(), token, nil)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newDaemon(t, nil)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.PID == 0 || status.APIBind == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Workflow.StageHealth) == 0 {
		t.Fatal("expected stage health in status")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	first, cfg := newDaemon(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	second, err := daemon.New(cfg, store, nil, workflow.NewManager(cfg, store, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	d, _ := newDaemon(t, func(cfg *config.Config) { cfg.Paths.APIToken = "s3cret" })
	startDaemon(t, d, "s3cret")

	resp, err := http.Get("http://" + d.APIAddr() + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	c, _ := client.NewAPIClient(d.APIAddr(), "s3cret", nil)
	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("authorized status: %v", err)
	}
}

func TestAPIJobLifecycle(t *testing.T) {
	d, _ := newDaemon(t, nil)
	c := startDaemon(t, d, "")
	ctx := context.Background()

	job, err := c.Submit(ctx, api.SubmitRequest{Filename: "keynote.mp4", Options: api.SubmitOptions{OutputFormats: []string{"json", "srt"}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Priority != 5 || job.Status != "queued" {
		t.Fatalf("unexpected job %+v", job)
	}

	waitFor(t, "job completion", func() bool {
		got, err := c.Job(ctx, job.ID)
		return err == nil && got.Status == "completed"
	})
	done, _ := c.Job(ctx, job.ID)
	if done.Progress != 100 || done.CompletedAt == "" {
		t.Fatalf("unexpected completed job %+v", done)
	}

	var srt bytes.Buffer
	if _, err := c.Transcript(ctx, job.ID, "srt", &srt); err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if !strings.Contains(srt.String(), "-->") {
		t.Fatalf("expected srt cues, got %q", srt.String())
	}
	if _, err := c.Transcript(ctx, job.ID, "docx", &srt); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown format, got %v", err)
	}

	page, err := c.History(ctx, api.HistoryQuery{Status: "completed"})
	if err != nil || page.Total != 1 || page.Jobs[0].ID != job.ID {
		t.Fatalf("unexpected history %+v err=%v", page, err)
	}
	stats, err := c.HistoryStats(ctx)
	if err != nil || stats.TotalCompleted != 1 {
		t.Fatalf("unexpected stats %+v err=%v", stats, err)
	}

	if err := c.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Job(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAPIQueueOrderingAndConflicts(t *testing.T) {
	d, _ := newDaemon(t, nil)
	c := startDaemon(t, d, "")
	ctx := context.Background()
	// Hold the workers so jobs stay queued.
	d.Workflow().Stop()

	var ids []string
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		job, err := c.Submit(ctx, api.SubmitRequest{Filename: name})
		if err != nil {
			t.Fatalf("Submit %s: %v", name, err)
		}
		ids = append(ids, job.ID)
	}

	snap, err := c.Reorder(ctx, []string{ids[2], ids[0], ids[1]})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if len(snap.Jobs) != 3 || snap.Jobs[0].ID != ids[2] || snap.Jobs[0].QueuePosition != 1 {
		t.Fatalf("unexpected snapshot head %+v", snap.Jobs)
	}

	if _, err := c.Reorder(ctx, []string{ids[0], "ghost"}); !errors.Is(err, services.ErrOrderingConflict) {
		t.Fatalf("expected ordering conflict, got %v", err)
	}
	if _, err := c.SetPriority(ctx, ids[1], 42); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	snap, err = c.SetPriority(ctx, ids[1], 1)
	if err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if snap.Jobs[0].ID != ids[1] {
		t.Fatalf("expected %s first, got %s", ids[1], snap.Jobs[0].ID)
	}

	cancelled, err := c.Cancel(ctx, ids[0])
	if err != nil || cancelled.Status != "cancelled" {
		t.Fatalf("Cancel: %+v %v", cancelled, err)
	}
	queue, err := c.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if queue.Counts["queued"] != 2 || queue.Counts["cancelled"] != 1 {
		t.Fatalf("unexpected counts %v", queue.Counts)
	}
}

func TestAPIBatchExport(t *testing.T) {
	d, _ := newDaemon(t, nil)
	c := startDaemon(t, d, "")
	ctx := context.Background()

	created, err := c.CreateBatch(ctx, api.BatchRequest{
		Name:  "Week 1",
		Files: []batch.File{{Filename: "one.mp4"}, {Filename: "two.mp4"}},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if created.TotalFiles != 2 || len(created.Jobs) != 2 {
		t.Fatalf("unexpected batch %+v", created)
	}
	if _, err := c.CreateBatch(ctx, api.BatchRequest{Name: "empty"}); !errors.Is(err, services.ErrAdmission) {
		t.Fatalf("expected admission error, got %v", err)
	}

	waitFor(t, "batch completion", func() bool {
		b, err := c.Batch(ctx, created.ID)
		return err == nil && b.Status == "completed"
	})

	var archive bytes.Buffer
	if _, err := c.ExportBatch(ctx, created.ID, "txt", &archive); err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive.Bytes()), int64(archive.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"one.txt", "two.txt", "manifest.yaml"} {
		if !names[want] {
			t.Fatalf("archive missing %s: %v", want, names)
		}
	}

	list, err := c.Batches(ctx)
	if err != nil || len(list) != 1 || list[0].Jobs != nil {
		t.Fatalf("unexpected batch list %+v err=%v", list, err)
	}
	if err := c.DeleteBatch(ctx, created.ID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := c.Batch(ctx, created.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAPILogsStream(t *testing.T) {
	d, _ := newDaemon(t, nil)
	c := startDaemon(t, d, "")
	ctx := context.Background()

	resp, err := c.Logs(ctx, 0, 50, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	found := false
	for _, evt := range resp.Events {
		if strings.Contains(evt.Message, "daemon started") {
			found = true
		}
	}
	if !found || resp.Next == 0 {
		t.Fatalf("expected start event in log stream, got %d events next=%d", len(resp.Events), resp.Next)
	}
}

func TestAPIEventStreamThroughWatcher(t *testing.T) {
	d, _ := newDaemon(t, nil)
	c := startDaemon(t, d, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := client.NewWatcher(client.WatcherOptions{URL: c.BaseURL()})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- watcher.Run(ctx) }()
	waitFor(t, "watcher connect", func() bool { return watcher.State() == client.StateConnected })

	job, err := c.Submit(ctx, api.SubmitRequest{Filename: "stream.mp4"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "projected completion", func() bool {
		got, ok := watcher.Projection().Job(job.ID)
		return ok && got.Status == "completed" && got.Progress == 100
	})
	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected watcher exit: %v", err)
	}
}
