package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestSocketPathPrefersFlag(t *testing.T) {
	ctx := newCommandContext(&globalFlags{socket: "  /tmp/custom.sock "})
	if got := ctx.socketPath(); got != "/tmp/custom.sock" {
		t.Fatalf("socketPath = %q", got)
	}
	if ctx.loaded {
		t.Fatal("explicit socket should not load config")
	}
}

func TestDialMissingSocketSuggestsStart(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "absent.sock")
	ctx := newCommandContext(&globalFlags{socket: socket})
	err := ctx.withClient(nil)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), socket) || !strings.Contains(err.Error(), "mediaqueue start") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSkipsConfigInheritsFromParent(t *testing.T) {
	parent := &cobra.Command{Use: "config", Annotations: map[string]string{noConfigAnnotation: "true"}}
	child := &cobra.Command{Use: "init"}
	parent.AddCommand(child)
	other := &cobra.Command{Use: "status"}
	if !skipsConfig(child) {
		t.Fatal("child of annotated command should skip config")
	}
	if skipsConfig(other) {
		t.Fatal("unannotated command should load config")
	}
}
