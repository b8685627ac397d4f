package daemonrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"mediaqueue/internal/logs"
	"mediaqueue/internal/testsupport"
)

func TestPointCurrentLogReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "mediaqueued-20260101.log")
	second := filepath.Join(dir, "mediaqueued-20260102.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	if err := pointCurrentLog(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := pointCurrentLog(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(logs.DaemonLogPath(dir))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != filepath.Base(second) {
		t.Fatalf("pointer resolves to %q", data)
	}
	if err := pointCurrentLog("", second); err != nil {
		t.Fatalf("empty dir should be a no-op: %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaqueued.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("unexpected pid file content %q", data)
	}
}

func TestOpenDaemonLogDiagnostic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dl, err := openDaemonLog(cfg, Options{Diagnostic: true}, "run1")
	if err != nil {
		t.Fatalf("openDaemonLog: %v", err)
	}
	dl.logger.Debug("only in debug log")
	dl.logger.Info("everywhere")

	daily, err := os.ReadFile(dl.dailyLog)
	if err != nil {
		t.Fatalf("read daily log: %v", err)
	}
	if !strings.Contains(string(daily), "everywhere") || strings.Contains(string(daily), "only in debug log") {
		t.Fatalf("unexpected daily log %q", daily)
	}
	debug, err := os.ReadFile(dl.debugLog)
	if err != nil {
		t.Fatalf("read debug log: %v", err)
	}
	if !strings.Contains(string(debug), "only in debug log") || !strings.Contains(string(debug), `"run_id":"run1"`) {
		t.Fatalf("unexpected debug log %q", debug)
	}
	if events, _ := dl.hub.Tail(10); len(events) == 0 {
		t.Fatal("expected records in the stream hub")
	}
	if _, err := os.Lstat(logs.DaemonLogPath(cfg.Paths.LogDir)); err != nil {
		t.Fatalf("expected current log pointer: %v", err)
	}
}
