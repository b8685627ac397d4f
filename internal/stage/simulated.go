package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

const defaultSimulatedTicks = 20

// Simulated is a built-in stage that advances through a fixed duration and
// writes placeholder artifacts. Transcribe produces a transcript JSON that
// later stages and batch export read back.
type Simulated struct {
	Name     string
	Duration time.Duration
	Ticks    int
}

// NewSimulated builds a simulated stage.
func NewSimulated(name string, duration time.Duration) *Simulated {
	return &Simulated{Name: name, Duration: duration, Ticks: defaultSimulatedTicks}
}

// HealthCheck always reports ready.
func (s *Simulated) HealthCheck(context.Context) Health {
	return Healthy(s.Name)
}

// Run ticks until done or ctx is cancelled.
func (s *Simulated) Run(ctx context.Context, in Input, onProgress ProgressFunc) (Output, error) {
	ticks := s.Ticks
	if ticks <= 0 {
		ticks = defaultSimulatedTicks
	}
	interval := s.Duration / time.Duration(ticks)
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for i := 1; i <= ticks; i++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return Output{}, services.Wrap(services.ErrCancelled, s.Name, "run", "interrupted", ctx.Err())
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return Output{}, services.Wrap(services.ErrCancelled, s.Name, "run", "interrupted", err)
		}
		if onProgress != nil {
			onProgress(float64(i) / float64(ticks))
		}
	}
	return s.produce(in)
}

func (s *Simulated) produce(in Input) (Output, error) {
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return Output{}, services.Wrap(services.ErrTransient, s.Name, "produce", "ensure work dir", err)
	}
	out := Output{Artifacts: make(map[string]string)}
	switch s.Name {
	case config.StageExtract:
		path := filepath.Join(in.WorkDir, "audio.wav")
		if err := writePlaceholder(path, "simulated audio for "+in.Filename); err != nil {
			return Output{}, err
		}
		out.Artifacts[queue.ArtifactAudio] = path
	case config.StageTranscribe:
		path := filepath.Join(in.WorkDir, "transcript.json")
		if err := simulatedTranscript(in).Save(path); err != nil {
			return Output{}, services.Wrap(services.ErrStageFailure, s.Name, "produce", "write transcript", err)
		}
		out.Artifacts[queue.ArtifactTranscript] = path
	case config.StageDiarize:
		path, err := diarize(in)
		if err != nil {
			return Output{}, err
		}
		out.Artifacts[queue.ArtifactDiarized] = path
	case config.StageSynthesize:
		path := filepath.Join(in.WorkDir, "speech.wav")
		if err := writePlaceholder(path, "simulated speech "+in.Options.TTSModelID); err != nil {
			return Output{}, err
		}
		out.Artifacts[queue.ArtifactSpeech] = path
	case config.StageSync:
		path := filepath.Join(in.WorkDir, "speech_synced.wav")
		if err := writePlaceholder(path, "simulated synced speech"); err != nil {
			return Output{}, err
		}
		out.Artifacts[queue.ArtifactSynced] = path
	}
	return out, nil
}

func writePlaceholder(path, content string) error {
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrStageFailure, "stage", "produce", filepath.Base(path), err)
	}
	return nil
}

func simulatedTranscript(in Input) *transcript.Transcript {
	lang := strings.TrimSpace(in.Options.Language)
	if lang == "" || lang == "auto" {
		lang = "en"
	}
	stem := strings.TrimSuffix(in.Filename, filepath.Ext(in.Filename))
	lines := []string{
		fmt.Sprintf("This is the transcript of %s.", stem),
		"Processing ran through the simulated pipeline.",
		"Replace the stage with a command to use a real model.",
	}
	t := &transcript.Transcript{JobID: in.JobID, Language: lang}
	for i, line := range lines {
		start := float64(i) * 4
		t.Segments = append(t.Segments, transcript.Segment{ID: i, Start: start, End: start + 3.5, Text: line})
	}
	t.Duration = t.Segments[len(t.Segments)-1].End
	return t
}

func diarize(in Input) (string, error) {
	ref := in.Artifacts[queue.ArtifactTranscript]
	if ref == "" {
		return "", services.Wrap(services.ErrStageFailure, config.StageDiarize, "produce", "no transcript to diarize", nil)
	}
	t, err := transcript.Load(ref)
	if err != nil {
		return "", services.Wrap(services.ErrStageFailure, config.StageDiarize, "produce", "load transcript", err)
	}
	for i := range t.Segments {
		t.Segments[i].Speaker = fmt.Sprintf("SPEAKER_%02d", i%2)
	}
	t.RefreshSpeakers()
	if err := t.Save(ref); err != nil {
		return "", services.Wrap(services.ErrStageFailure, config.StageDiarize, "produce", "save transcript", err)
	}
	return ref, nil
}
