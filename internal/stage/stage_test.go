package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExpandArgs(t *testing.T) {
	in := Input{
		JobID: "j1", Stage: "transcribe", SourcePath: "/media/a.mp4", WorkDir: "/work/j1",
		Filename:  "a.mp4",
		Options:   queue.Options{Language: "de"},
		Artifacts: map[string]string{"audio": "/work/j1/audio.wav"},
	}
	got := ExpandArgs([]string{"tool", "--in={artifact:audio}", "{workdir}/{job}", "-l", "{language}", "{stage}"}, in)
	want := []string{"tool", "--in=/work/j1/audio.wav", "/work/j1/j1", "-l", "de", "transcribe"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ExpandArgs = %v, want %v", got, want)
		}
	}
}

func TestCommandReportsProgressAndArtifacts(t *testing.T) {
	script := writeScript(t, `echo "progress 0.25"
echo "noise line"
echo "progress 1"
echo "artifact transcript out.json"
`)
	cmd := NewCommand("transcribe", []string{script}, time.Second)
	workDir := t.TempDir()
	var fractions []float64
	out, err := cmd.Run(context.Background(), Input{WorkDir: workDir}, func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fractions) != 2 || fractions[0] != 0.25 || fractions[1] != 1 {
		t.Fatalf("unexpected fractions %v", fractions)
	}
	if out.Artifacts["transcript"] != filepath.Join(workDir, "out.json") {
		t.Fatalf("unexpected artifacts %v", out.Artifacts)
	}
}

func TestCommandSkipsNonFiniteProgress(t *testing.T) {
	script := writeScript(t, `echo "progress 0.3"
echo "progress nan"
echo "progress inf"
echo "progress 0.6"
`)
	cmd := NewCommand("transcribe", []string{script}, time.Second)
	var fractions []float64
	if _, err := cmd.Run(context.Background(), Input{WorkDir: t.TempDir()}, func(f float64) {
		fractions = append(fractions, f)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fractions) != 2 || fractions[0] != 0.3 || fractions[1] != 0.6 {
		t.Fatalf("unexpected fractions %v", fractions)
	}
}

func TestCommandFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, "echo 'model exploded' >&2\nexit 3\n")
	_, err := NewCommand("diarize", []string{script}, time.Second).Run(context.Background(), Input{WorkDir: t.TempDir()}, nil)
	if !errors.Is(err, services.ErrStageFailure) {
		t.Fatalf("expected stage failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "model exploded") || !strings.Contains(err.Error(), "exit status 3") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestCommandCancellationInterrupts(t *testing.T) {
	script := writeScript(t, "echo 'progress 0.1'\nsleep 30\n")
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := NewCommand("transcribe", []string{script}, 200*time.Millisecond).Run(ctx, Input{WorkDir: t.TempDir()}, func(float64) {
			select {
			case started <- struct{}{}:
			default:
			}
		})
		done <- err
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("command never reported progress")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, services.ErrCancelled) {
			t.Fatalf("expected cancelled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("command did not stop after cancellation")
	}
}

func TestCommandHealthCheck(t *testing.T) {
	if h := NewCommand("sync", []string{"definitely-not-a-binary-xyz"}, 0).HealthCheck(context.Background()); h.Ready {
		t.Fatal("expected missing binary to be unhealthy")
	}
	if h := NewCommand("sync", nil, 0).HealthCheck(context.Background()); h.Ready || h.Detail == "" {
		t.Fatalf("expected unconfigured command to be unhealthy, got %+v", h)
	}
}

func TestSimulatedPipelineArtifacts(t *testing.T) {
	workDir := t.TempDir()
	in := Input{JobID: "j1", Filename: "talk.mp4", WorkDir: workDir, Options: queue.Options{Language: "auto"}}

	var last float64
	ticks := 0
	out, err := NewSimulated(config.StageTranscribe, 0).Run(context.Background(), in, func(f float64) {
		if f < last {
			t.Fatalf("fraction went backwards: %v < %v", f, last)
		}
		last = f
		ticks++
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if ticks != defaultSimulatedTicks || last != 1 {
		t.Fatalf("expected %d ticks ending at 1, got %d ending at %v", defaultSimulatedTicks, ticks, last)
	}
	ref := out.Artifacts[queue.ArtifactTranscript]
	in.Artifacts = map[string]string{queue.ArtifactTranscript: ref}
	if _, err := NewSimulated(config.StageDiarize, 0).Run(context.Background(), in, nil); err != nil {
		t.Fatalf("diarize: %v", err)
	}
	tr, err := transcript.Load(ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Language != "en" || len(tr.Speakers) != 2 || tr.Segments[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected diarized transcript %+v", tr)
	}
}

func TestSimulatedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulated(config.StageExtract, time.Second).Run(ctx, Input{WorkDir: t.TempDir()}, nil)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestRegistryPrefersCommands(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Commands = map[string][]string{config.StageTranscribe: {"whisper", "{input}"}}
	reg := NewRegistry(&cfg)
	if _, ok := reg[config.StageTranscribe].(*Command); !ok {
		t.Fatalf("expected command handler, got %T", reg[config.StageTranscribe])
	}
	if _, ok := reg[config.StageExtract].(*Simulated); !ok {
		t.Fatalf("expected simulated handler, got %T", reg[config.StageExtract])
	}
	if health := reg.Health(context.Background()); len(health) != len(config.StageOrder) {
		t.Fatalf("expected health per stage, got %d", len(health))
	}
}

func TestLabel(t *testing.T) {
	if got := Label("synced_speech"); got != "Synced Speech" {
		t.Fatalf("Label = %q", got)
	}
}

func TestAllReady(t *testing.T) {
	if !AllReady(nil) {
		t.Fatal("empty health list should be ready")
	}
	health := []Health{Healthy("extract"), Unhealthy("transcribe", "whisper not found")}
	if AllReady(health) {
		t.Fatal("expected not ready with a failing stage")
	}
	if !AllReady(health[:1]) {
		t.Fatal("expected ready with only healthy stages")
	}
}
