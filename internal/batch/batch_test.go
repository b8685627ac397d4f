package batch_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"mediaqueue/internal/batch"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/testsupport"
	"mediaqueue/internal/transcript"
)

type storeAdmitter struct {
	store   *queue.Store
	deleted []string
}

func (a *storeAdmitter) AdmitBatch(ctx context.Context, b *queue.Batch, jobs []*queue.Job) (*queue.Batch, []*queue.Job, error) {
	return a.store.CreateBatch(ctx, b, jobs)
}

func (a *storeAdmitter) Delete(ctx context.Context, id string) error {
	a.deleted = append(a.deleted, id)
	return a.store.Delete(ctx, id)
}

func setup(t *testing.T) (*queue.Store, *storeAdmitter, *batch.Coordinator) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	admit := &storeAdmitter{store: store}
	return store, admit, batch.NewCoordinator(store, admit, nil)
}

func files(names ...string) []batch.File {
	out := make([]batch.File, len(names))
	for i, n := range names {
		out[i] = batch.File{Filename: n}
	}
	return out
}

func finish(t *testing.T, store *queue.Store, id string, status queue.Status, progress float64, transcriptPath, errMsg string) {
	t.Helper()
	if _, err := store.Update(context.Background(), id, func(j *queue.Job) error {
		j.Status = status
		j.Progress = progress
		j.Error = errMsg
		if transcriptPath != "" {
			j.SetArtifact(queue.ArtifactTranscript, transcriptPath)
		}
		return nil
	}); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func writeTranscript(t *testing.T, dir, jobID string) string {
	t.Helper()
	path := filepath.Join(dir, jobID, "transcript.json")
	tr := &transcript.Transcript{JobID: jobID, Language: "en", Segments: []transcript.Segment{{Start: 0, End: 1, Text: "hi " + jobID}}}
	if err := tr.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestCreateRejectsEmptyBatch(t *testing.T) {
	_, _, coord := setup(t)
	if _, err := coord.Create(context.Background(), batch.CreateRequest{Name: "x"}); !errors.Is(err, services.ErrAdmission) {
		t.Fatalf("expected admission error, got %v", err)
	}
}

func TestCreateDefaultsNameAndLinksJobs(t *testing.T) {
	_, _, coord := setup(t)
	view, err := coord.Create(context.Background(), batch.CreateRequest{Files: files("a.mp4", "b.mp4"), Priority: 3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(view.Name, "Batch ") || view.TotalFiles != 2 || len(view.Jobs) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	for _, job := range view.Jobs {
		if job.BatchID != view.ID || job.Priority != 3 {
			t.Fatalf("member not linked: %+v", job)
		}
	}
	if view.Status != batch.StatusProcessing {
		t.Fatalf("expected processing, got %s", view.Status)
	}
}

func TestDeriveAggregates(t *testing.T) {
	b := &queue.Batch{ID: "b", TotalFiles: 3}
	view := batch.Derive(b, []*queue.Job{
		{Status: queue.StatusCompleted, Progress: 100},
		{Status: queue.StatusProcessing, Progress: 40},
		{Status: queue.StatusQueued, Progress: 0},
	})
	if view.Progress != 140.0/3 || view.Status != batch.StatusProcessing || view.CompletedFiles != 1 {
		t.Fatalf("unexpected view %+v", view)
	}

	done := batch.Derive(b, []*queue.Job{
		{Status: queue.StatusCompleted, Progress: 100},
		{Status: queue.StatusCancelled, Progress: 30},
	})
	if done.Status != batch.StatusCompletedWithErrors || done.FailedFiles != 1 {
		t.Fatalf("expected completed_with_errors, got %+v", done)
	}

	clean := batch.Derive(b, []*queue.Job{{Status: queue.StatusCompleted, Progress: 100}})
	if clean.Status != batch.StatusCompleted {
		t.Fatalf("expected completed, got %s", clean.Status)
	}
}

func TestExportRequiresTerminalMembers(t *testing.T) {
	_, _, coord := setup(t)
	view, _ := coord.Create(context.Background(), batch.CreateRequest{Files: files("a.mp4")})
	_, err := coord.Export(context.Background(), view.ID, transcript.FormatSRT, io.Discard)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExportSkipsFailedMember(t *testing.T) {
	store, _, coord := setup(t)
	view, err := coord.Create(context.Background(), batch.CreateRequest{Name: "four", Files: files("one.mp4", "two.mp4", "three.mp4", "one.wav")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dir := t.TempDir()
	for i, job := range view.Jobs {
		if i == 1 {
			finish(t, store, job.ID, queue.StatusFailed, 20, "", "transcribe: model crashed")
			continue
		}
		finish(t, store, job.ID, queue.StatusCompleted, 100, writeTranscript(t, dir, job.ID), "")
	}

	got, _ := coord.Get(view.ID)
	if got.Status != batch.StatusCompletedWithErrors {
		t.Fatalf("expected completed_with_errors, got %s", got.Status)
	}

	var buf bytes.Buffer
	manifest, err := coord.Export(context.Background(), view.ID, transcript.FormatSRT, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(manifest.Files) != 3 || len(manifest.Omitted) != 1 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	if manifest.Omitted[0].JobID != view.Jobs[1].ID || manifest.Omitted[0].Reason != "failed" || manifest.Omitted[0].Error == "" {
		t.Fatalf("unexpected omitted entry %+v", manifest.Omitted[0])
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	for _, want := range []string{"one.srt", "three.srt", "one-2.srt", batch.ManifestName} {
		if names[want] == nil {
			t.Fatalf("missing entry %s in %v", want, names)
		}
	}
	if len(names) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(names))
	}

	rc, _ := names[batch.ManifestName].Open()
	defer rc.Close()
	var decoded batch.Manifest
	if err := yaml.NewDecoder(rc).Decode(&decoded); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if decoded.BatchName != "four" || decoded.Format != "srt" || len(decoded.Files) != 3 {
		t.Fatalf("unexpected decoded manifest %+v", decoded)
	}
}

func TestExportEntryNamesNeverCollide(t *testing.T) {
	store, _, coord := setup(t)
	view, err := coord.Create(context.Background(), batch.CreateRequest{Files: files("a.mp3", "a.wav", "a-2.mp3")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dir := t.TempDir()
	for _, job := range view.Jobs {
		finish(t, store, job.ID, queue.StatusCompleted, 100, writeTranscript(t, dir, job.ID), "")
	}

	var buf bytes.Buffer
	manifest, err := coord.Export(context.Background(), view.ID, transcript.FormatTXT, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}
	seen := map[string]bool{}
	for _, f := range zr.File {
		if seen[f.Name] {
			t.Fatalf("duplicate entry %s", f.Name)
		}
		seen[f.Name] = true
	}
	for _, want := range []string{"a.txt", "a-2.txt", "a-2-2.txt", batch.ManifestName} {
		if !seen[want] {
			t.Fatalf("missing entry %s in %v", want, seen)
		}
	}
	if len(manifest.Files) != 3 {
		t.Fatalf("expected 3 files, got %+v", manifest.Files)
	}
}

func TestDeleteRemovesMembers(t *testing.T) {
	store, admit, coord := setup(t)
	view, _ := coord.Create(context.Background(), batch.CreateRequest{Files: files("a", "b")})
	if err := coord.Delete(context.Background(), view.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(admit.deleted) != 2 || store.Stats().Total != 0 {
		t.Fatalf("expected members deleted, got %v / %d", admit.deleted, store.Stats().Total)
	}
	if _, err := coord.Get(view.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected batch gone, got %v", err)
	}
}

func TestDefaultName(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 7, 0, 0, time.UTC)
	if got := batch.DefaultName(at); got != "Batch 2026-05-04 09:07" {
		t.Fatalf("DefaultName = %q", got)
	}
}
