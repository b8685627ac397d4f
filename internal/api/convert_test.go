package api

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"mediaqueue/internal/batch"
	"mediaqueue/internal/events"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/stage"
	"mediaqueue/internal/transcript"
	"mediaqueue/internal/workflow"
)

func TestFromJobAddsLabelsAndTimestamps(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &queue.Job{
		ID:         "j1",
		Filename:   "talk.mp4",
		Status:     queue.StatusProcessing,
		Stage:      "transcribe",
		Progress:   42.5,
		Priority:   3,
		CreatedAt:  started.Add(-time.Minute),
		StartedAt:  &started,
		ResultRefs: map[string]string{queue.ArtifactTranscript: "/work/j1/transcript.json"},
	}
	dto := FromJob(job)
	if dto.StatusLabel != "Processing" || dto.StageLabel != "Transcribe" {
		t.Fatalf("unexpected labels: %q %q", dto.StatusLabel, dto.StageLabel)
	}
	if dto.StartedAt != "2026-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected startedAt %q", dto.StartedAt)
	}
	if dto.CompletedAt != "" || dto.UpdatedAt != "" {
		t.Fatalf("expected empty timestamps, got %q %q", dto.CompletedAt, dto.UpdatedAt)
	}
	job.ResultRefs[queue.ArtifactTranscript] = "changed"
	if dto.ResultRefs[queue.ArtifactTranscript] != "/work/j1/transcript.json" {
		t.Fatal("expected result refs to be copied")
	}
	if dto.Terminal() {
		t.Fatal("processing job is not terminal")
	}
}

func TestFromSnapshotCarriesPositionsAndZeroCounts(t *testing.T) {
	snap := workflow.Snapshot{
		Seq:    17,
		Counts: map[queue.Status]int{queue.StatusQueued: 2, queue.StatusProcessing: 1},
		Total:  3,
		Jobs: []workflow.QueuedJob{
			{Job: &queue.Job{ID: "p", Status: queue.StatusProcessing}},
			{Job: &queue.Job{ID: "a", Status: queue.StatusQueued}, Position: 1},
			{Job: &queue.Job{ID: "b", Status: queue.StatusQueued}, Position: 2},
		},
	}
	dto := FromSnapshot(snap)
	if dto.Seq != 17 || len(dto.Jobs) != 3 {
		t.Fatalf("unexpected snapshot: %+v", dto)
	}
	if dto.Jobs[0].QueuePosition != 0 || dto.Jobs[2].QueuePosition != 2 {
		t.Fatalf("unexpected positions: %+v", dto.Jobs)
	}
	if dto.Counts["failed"] != 0 || dto.Counts["queued"] != 2 {
		t.Fatalf("unexpected counts: %v", dto.Counts)
	}
	if len(dto.Counts) != len(queue.AllStatuses) {
		t.Fatalf("expected every status present, got %v", dto.Counts)
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:     true,
		Slots:       2,
		BusySlots:   1,
		LastJob:     &queue.Job{ID: "last", Status: queue.StatusFailed},
		StageHealth: []stage.Health{{Name: "transcribe", Ready: false, Detail: "whisper missing"}},
	}
	status := FromStatusSummary(summary)
	if status.LastJob == nil || status.LastJob.ID != "last" {
		t.Fatalf("expected last job, got %+v", status.LastJob)
	}
	if len(status.StageHealth) != 1 || status.StageHealth[0].Label != "Transcribe" || status.StageHealth[0].Ready {
		t.Fatalf("unexpected stage health: %+v", status.StageHealth)
	}
}

func TestFromBatchView(t *testing.T) {
	view := batch.View{
		ID:         "b1",
		Name:       "Lectures",
		TotalFiles: 2,
		Status:     batch.StatusCompletedWithErrors,
		Jobs:       []*queue.Job{{ID: "a"}, {ID: "b"}},
	}
	if got := FromBatchView(view, false); got.Jobs != nil || got.StatusLabel != "Completed With Errors" {
		t.Fatalf("unexpected listing view: %+v", got)
	}
	if got := FromBatchView(view, true); len(got.Jobs) != 2 {
		t.Fatalf("expected members, got %+v", got.Jobs)
	}
}

func TestSubmitOptionsDefaultSyncTiming(t *testing.T) {
	if opts := (SubmitOptions{EnableSynthesis: true}).Options(true); !opts.SyncTiming {
		t.Fatal("expected sync timing to take the default")
	}
	off := false
	if opts := (SubmitOptions{EnableSynthesis: true, SyncTiming: &off}).Options(true); opts.SyncTiming {
		t.Fatal("expected explicit false to be kept")
	}
	req := SubmitRequest{Filename: "a.mp4", Priority: 2, Options: SubmitOptions{OutputFormats: []string{"vtt"}}}.JobRequest(true)
	if req.Filename != "a.mp4" || req.Priority != 2 || req.Options.OutputFormats[0] != "vtt" {
		t.Fatalf("unexpected job request: %+v", req)
	}
}

func TestHistoryQueryFilter(t *testing.T) {
	q, err := ParseHistoryQuery(url.Values{"q": {"talk"}, "status": {"Failed"}, "since": {"2026-01-02"}, "limit": {"10"}})
	if err != nil {
		t.Fatalf("ParseHistoryQuery: %v", err)
	}
	filter, err := q.Filter()
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if filter.Status != queue.StatusFailed || filter.Limit != 10 || filter.Query != "talk" {
		t.Fatalf("unexpected filter: %+v", filter)
	}
	if !filter.Since.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since: %v", filter.Since)
	}

	if _, err := ParseHistoryQuery(url.Values{"limit": {"-1"}}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative limit, got %v", err)
	}
	if _, err := (HistoryQuery{Status: "queued"}).Filter(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for live status, got %v", err)
	}
	if _, err := (HistoryQuery{Until: "yesterday"}).Filter(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("", transcript.FormatJSON); err != nil || f != transcript.FormatJSON {
		t.Fatalf("expected fallback, got %q %v", f, err)
	}
	if f, err := ParseFormat("SRT", transcript.FormatJSON); err != nil || f != transcript.FormatSRT {
		t.Fatalf("expected srt, got %q %v", f, err)
	}
	if _, err := ParseFormat("pdf", transcript.FormatJSON); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSortedStatuses(t *testing.T) {
	got := SortedStatuses(map[string]int{"failed": 1, "queued": 2, "zombie": 1})
	want := []string{"queued", "failed", "zombie"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedStatuses = %v, want %v", got, want)
		}
	}
}

func TestErrorFrom(t *testing.T) {
	body := ErrorFrom(services.Wrap(services.ErrOrderingConflict, "scheduler", "reorder", "job not queued x", nil))
	if body.Kind != "ordering_conflict" || body.Error == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestWireEventConvertsJobs(t *testing.T) {
	evt := WireEvent(events.Event{Type: events.TypeJobComplete, Seq: 3, Data: &queue.Job{ID: "j", Status: queue.StatusCompleted}})
	dto, ok := evt.Data.(Job)
	if !ok || dto.StatusLabel != "Completed" || evt.Seq != 3 {
		t.Fatalf("unexpected wire event: %+v", evt)
	}
	progress := events.Progress{JobID: "j", Progress: 50}
	if got := WireEvent(events.Event{Type: events.TypeJobProgress, Data: progress}); got.Data != progress {
		t.Fatalf("expected progress payload untouched, got %+v", got.Data)
	}
}
