package deps

import (
	"os"
	"path/filepath"
	"testing"

	"mediaqueue/internal/config"
)

func stub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckReportsEachRequirement(t *testing.T) {
	present := stub(t, t.TempDir(), "present")
	got := Check([]Requirement{
		{Name: "present", Command: present},
		{Name: "missing", Command: "mediaqueue-no-such-tool"},
		{Name: "blank", Command: " "},
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(got))
	}
	if !got[0].Available || got[0].Detail != "" {
		t.Fatalf("present: %+v", got[0])
	}
	if got[1].Available || got[1].Command != "mediaqueue-no-such-tool" || got[1].Detail == "" {
		t.Fatalf("missing: %+v", got[1])
	}
	if got[2].Available || got[2].Detail != "command not configured" {
		t.Fatalf("blank: %+v", got[2])
	}
}

func TestCheckPrefersCopyNextToTool(t *testing.T) {
	toolDir := t.TempDir()
	tool := stub(t, toolDir, "extractor")
	sidecar := stub(t, toolDir, "ffmpeg")
	pathDir := t.TempDir()
	stub(t, pathDir, "ffmpeg")
	t.Setenv("PATH", pathDir)

	st := Check([]Requirement{{Name: "FFmpeg", Command: "ffmpeg", Near: tool}})[0]
	if !st.Available || st.Command != sidecar {
		t.Fatalf("expected sidecar %s, got %+v", sidecar, st)
	}

	if err := os.Remove(sidecar); err != nil {
		t.Fatal(err)
	}
	st = Check([]Requirement{{Name: "FFmpeg", Command: "ffmpeg", Near: tool}})[0]
	if !st.Available || st.Command != filepath.Join(pathDir, "ffmpeg") {
		t.Fatalf("expected PATH fallback, got %+v", st)
	}
}

func TestForConfig(t *testing.T) {
	cfg := config.Default()
	reqs := ForConfig(&cfg)
	if len(reqs) != 1 || reqs[0].Name != "FFmpeg" || !reqs[0].Optional {
		t.Fatalf("simulated pipeline should only list optional ffmpeg, got %+v", reqs)
	}

	cfg.Pipeline.Commands = map[string][]string{
		config.StageTranscribe: {"whisper-cli", "{input}"},
		config.StageExtract:    {"extractor", "-i", "{input}"},
	}
	reqs = ForConfig(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %+v", reqs)
	}
	if reqs[0].Name != config.StageExtract || reqs[1].Command != "whisper-cli" {
		t.Fatalf("expected pipeline order, got %+v", reqs)
	}
	if ff := reqs[2]; ff.Optional || ff.Near != "extractor" {
		t.Fatalf("ffmpeg should be required near the extractor, got %+v", ff)
	}
}
