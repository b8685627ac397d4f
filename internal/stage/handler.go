package stage

import (
	"context"
	"log/slog"
	"maps"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
)

// Input is everything a stage needs to process one job.
type Input struct {
	JobID      string
	Stage      string
	Filename   string
	SourcePath string
	WorkDir    string
	Options    queue.Options
	// Artifacts holds the handles published by earlier stages.
	Artifacts map[string]string
	// Logger is scoped to this job and stage. Nil discards.
	Logger *slog.Logger
}

// Output carries artifact handles back to the executor.
type Output struct {
	Artifacts map[string]string
	Message   string
}

// ProgressFunc receives the stage-local completion fraction in [0,1].
type ProgressFunc func(fraction float64)

// Handler describes the contract the pipeline executor needs from each stage.
// Implementations should return promptly once ctx is cancelled.
type Handler interface {
	Run(ctx context.Context, in Input, onProgress ProgressFunc) (Output, error)
}

// HealthChecker is implemented by stages that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Log returns the run logger, or a discarding one.
func (in Input) Log() *slog.Logger {
	if in.Logger == nil {
		return logging.NewNop()
	}
	return in.Logger
}

// InputFor builds the stage input for a job.
func InputFor(job *queue.Job, stageName, workDir string) Input {
	return Input{
		JobID:      job.ID,
		Stage:      stageName,
		Filename:   job.Filename,
		SourcePath: job.SourcePath,
		WorkDir:    workDir,
		Options:    job.Options,
		Artifacts:  maps.Clone(job.ResultRefs),
	}
}

var titleCaser = cases.Title(language.English)

// Label renders a stage or status name for display ("synced_speech" -> "Synced Speech").
func Label(name string) string {
	if name == "" {
		return ""
	}
	out := []rune(name)
	for i, r := range out {
		if r == '_' || r == '-' {
			out[i] = ' '
		}
	}
	return titleCaser.String(string(out))
}
