package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupOldLogsRemovesExpiredMatches(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "mediaqueued-20200101.log")
	fresh := filepath.Join(dir, "mediaqueued-20990101.log")
	other := filepath.Join(dir, "notes.txt")
	current := filepath.Join(dir, "mediaqueued-20200102.log")
	for _, path := range []string{old, fresh, other, current} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	for _, path := range []string{old, other, current} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatal(err)
		}
	}

	removed := CleanupOldLogs(nil, 30, RetentionTarget{Dir: dir, Pattern: "mediaqueued-*.log", Exclude: []string{current}})
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected expired log removed")
	}
	for _, path := range []string{fresh, other, current} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
	if CleanupOldLogs(nil, 0, RetentionTarget{Dir: dir}) != 0 {
		t.Fatal("zero retention must disable pruning")
	}
}
