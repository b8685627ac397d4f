package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile stands in a media source of size bytes at path and returns path.
// Stages only stat and hash their input, so the content is filler.
func WriteFile(t testing.TB, path string, size int64) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("mq"), int(max(size, 2)/2)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
