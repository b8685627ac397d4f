package queue

import (
	"maps"
	"slices"
	"time"

	"mediaqueue/internal/config"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every job status in lifecycle order.
var AllStatuses = []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

// Artifact keys stages publish into Job.ResultRefs.
const (
	ArtifactAudio      = "audio"
	ArtifactTranscript = "transcript"
	ArtifactDiarized   = "diarization"
	ArtifactSpeech     = "speech"
	ArtifactSynced     = "synced_speech"
)

// Options are the per-job processing choices captured at submission.
type Options struct {
	Language           string   `json:"language"`
	TranslateTo        string   `json:"translateTo,omitempty"`
	ModelID            string   `json:"modelId,omitempty"`
	DiarizationModelID string   `json:"diarizationModelId,omitempty"`
	TTSModelID         string   `json:"ttsModelId,omitempty"`
	EnableDiarization  bool     `json:"enableDiarization"`
	EnableSynthesis    bool     `json:"enableSynthesis"`
	SyncTiming         bool     `json:"syncTiming"`
	OutputFormats      []string `json:"outputFormats"`
}

// StagesFor derives the static stage list for a set of options.
func StagesFor(opts Options) []string {
	stages := []string{config.StageExtract, config.StageTranscribe}
	if opts.EnableDiarization {
		stages = append(stages, config.StageDiarize)
	}
	if opts.EnableSynthesis {
		stages = append(stages, config.StageSynthesize)
		if opts.SyncTiming {
			stages = append(stages, config.StageSync)
		}
	}
	return stages
}

// Job is one submitted media file moving through the pipeline.
type Job struct {
	ID          string            `json:"id"`
	BatchID     string            `json:"batchId,omitempty"`
	Filename    string            `json:"filename"`
	SourcePath  string            `json:"sourcePath,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Options     Options           `json:"options"`
	Stages      []string          `json:"stages"`
	Status      Status            `json:"status"`
	Stage       string            `json:"stage,omitempty"`
	Progress    float64           `json:"progress"`
	Priority    int               `json:"priority"`
	Seq         uint64            `json:"seq"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Error       string            `json:"errorMessage,omitempty"`
	ResultRefs  map[string]string `json:"resultRefs,omitempty"`
}

// Clone returns a deep copy safe to hand outside the store lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Options.OutputFormats = slices.Clone(j.Options.OutputFormats)
	c.Stages = slices.Clone(j.Stages)
	c.ResultRefs = maps.Clone(j.ResultRefs)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// SetArtifact records an artifact handle on the job.
func (j *Job) SetArtifact(key, ref string) {
	if j.ResultRefs == nil {
		j.ResultRefs = make(map[string]string)
	}
	j.ResultRefs[key] = ref
}

// Batch groups jobs submitted together.
type Batch struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	JobIDs     []string  `json:"jobIds"`
	TotalFiles int       `json:"totalFiles"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	c := *b
	c.JobIDs = slices.Clone(b.JobIDs)
	return &c
}

// Stats summarizes job counts per status.
type Stats struct {
	Total  int            `json:"total"`
	Counts map[Status]int `json:"counts"`
}
