package api

import (
	"slices"
	"time"

	"mediaqueue/internal/batch"
	"mediaqueue/internal/deps"
	"mediaqueue/internal/preflight"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
	"mediaqueue/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:           job.ID,
		BatchID:      job.BatchID,
		Filename:     job.Filename,
		SourcePath:   job.SourcePath,
		Fingerprint:  job.Fingerprint,
		Options:      job.Options,
		Stages:       append([]string(nil), job.Stages...),
		Status:       string(job.Status),
		StatusLabel:  stage.Label(string(job.Status)),
		Stage:        job.Stage,
		StageLabel:   stage.Label(job.Stage),
		Progress:     job.Progress,
		Priority:     job.Priority,
		ErrorMessage: job.Error,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
	if dto.Options.OutputFormats == nil {
		dto.Options.OutputFormats = []string{}
	}
	if job.StartedAt != nil {
		dto.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	if len(job.ResultRefs) > 0 {
		dto.ResultRefs = make(map[string]string, len(job.ResultRefs))
		for k, v := range job.ResultRefs {
			dto.ResultRefs[k] = v
		}
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromSnapshot converts the workflow queue snapshot.
func FromSnapshot(snap workflow.Snapshot) QueueSnapshot {
	dto := QueueSnapshot{
		Seq:    snap.Seq,
		Counts: MergeQueueStats(snap.Counts),
		Total:  snap.Total,
		Jobs:   make([]Job, 0, len(snap.Jobs)),
	}
	for _, q := range snap.Jobs {
		job := FromJob(q.Job)
		job.QueuePosition = q.Position
		dto.Jobs = append(dto.Jobs, job)
	}
	return dto
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:     summary.Running,
		Slots:       summary.Slots,
		BusySlots:   summary.BusySlots,
		Queued:      summary.Queued,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
		StagesReady: summary.StagesReady,
		EventSeq:    summary.EventSeq,
		Subscribers: summary.Subscribers,
	}
	if summary.LastJob != nil {
		job := FromJob(summary.LastJob)
		status.LastJob = &job
	}
	return status
}

// StageHealthSlice converts stage readiness in pipeline order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Label: stage.Label(h.Name), Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}

// FromPreflight converts startup check results.
func FromPreflight(results []preflight.Result) []PreflightResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]PreflightResult, 0, len(results))
	for _, r := range results {
		out = append(out, PreflightResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromBatchView converts a derived batch view. Members are included when
// withJobs is set.
func FromBatchView(view batch.View, withJobs bool) Batch {
	dto := Batch{
		ID:             view.ID,
		Name:           view.Name,
		TotalFiles:     view.TotalFiles,
		CompletedFiles: view.CompletedFiles,
		FailedFiles:    view.FailedFiles,
		Progress:       view.Progress,
		Status:         string(view.Status),
		StatusLabel:    stage.Label(string(view.Status)),
		CreatedAt:      formatTime(view.CreatedAt),
	}
	if withJobs {
		dto.Jobs = FromJobs(view.Jobs)
	}
	return dto
}

// FromBatchViews converts a batch listing without members.
func FromBatchViews(views []batch.View) []Batch {
	out := make([]Batch, 0, len(views))
	for _, v := range views {
		out = append(out, FromBatchView(v, false))
	}
	return out
}

// FromHistoryPage converts a page of finished jobs.
func FromHistoryPage(page queue.HistoryPage) HistoryResponse {
	return HistoryResponse{
		Jobs:   FromJobs(page.Jobs),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
}

// FromHistoryStats converts the finished-work summary.
func FromHistoryStats(stats queue.HistoryStats) HistoryStatsResponse {
	return HistoryStatsResponse{
		Counts:               MergeQueueStats(stats.Counts),
		TotalCompleted:       stats.TotalCompleted,
		TotalFailed:          stats.TotalFailed,
		AvgProcessingSeconds: stats.AvgProcessingSeconds,
	}
}

// MergeQueueStats keys counts by status string and fills missing statuses
// with zero.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses))
	for _, status := range queue.AllStatuses {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

// SortedStatuses returns the keys of stats in lifecycle order, with unknown
// keys appended alphabetically.
func SortedStatuses(stats map[string]int) []string {
	keys := make([]string, 0, len(stats))
	for _, status := range queue.AllStatuses {
		if _, ok := stats[string(status)]; ok {
			keys = append(keys, string(status))
		}
	}
	var extra []string
	for key := range stats {
		if !queue.Status(key).Valid() {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	return append(keys, extra...)
}

// Options converts submission options. Unset SyncTiming takes defaultSync.
func (o SubmitOptions) Options(defaultSync bool) queue.Options {
	sync := defaultSync
	if o.SyncTiming != nil {
		sync = *o.SyncTiming
	}
	return queue.Options{
		Language:           o.Language,
		TranslateTo:        o.TranslateTo,
		ModelID:            o.ModelID,
		DiarizationModelID: o.DiarizationModelID,
		TTSModelID:         o.TTSModelID,
		EnableDiarization:  o.EnableDiarization,
		EnableSynthesis:    o.EnableSynthesis,
		SyncTiming:         sync,
		OutputFormats:      append([]string(nil), o.OutputFormats...),
	}
}

// JobRequest converts the body into a workflow submission.
func (r SubmitRequest) JobRequest(defaultSync bool) workflow.JobRequest {
	return workflow.JobRequest{
		Filename:   r.Filename,
		SourcePath: r.SourcePath,
		Options:    r.Options.Options(defaultSync),
		Priority:   r.Priority,
	}
}

// CreateRequest converts the body into a batch submission.
func (r BatchRequest) CreateRequest(defaultSync bool) batch.CreateRequest {
	return batch.CreateRequest{
		Name:     r.Name,
		Files:    append([]batch.File(nil), r.Files...),
		Options:  r.Options.Options(defaultSync),
		Priority: r.Priority,
	}
}

// ErrorFrom builds the error body for err.
func ErrorFrom(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{}
	}
	return ErrorResponse{Error: err.Error(), Kind: services.Kind(err)}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
