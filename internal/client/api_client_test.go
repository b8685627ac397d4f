package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediaqueue/internal/api"
	"mediaqueue/internal/client"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

func newAPIFixture(t *testing.T, handler http.HandlerFunc) *client.APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.NewAPIClient(srv.URL, "secret", nil)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAPIClientSubmitSendsTokenAndBody(t *testing.T) {
	var got api.SubmitRequest
	c := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected route %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusCreated, api.Job{ID: "j1", Filename: got.Filename, Status: "queued", Priority: got.Priority})
	})

	job, err := c.Submit(context.Background(), api.SubmitRequest{Filename: "talk.mp4", Priority: 2})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "j1" || job.Priority != 2 || got.Filename != "talk.mp4" {
		t.Fatalf("unexpected job %+v (request %+v)", job, got)
	}
}

func TestAPIClientMapsErrorKinds(t *testing.T) {
	c := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/queue/reorder":
			writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: "job x is not queued", Kind: "ordering_conflict"})
		case "/api/jobs/missing":
			http.Error(w, "no such job", http.StatusNotFound)
		default:
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "boom"})
		}
	})
	ctx := context.Background()

	_, err := c.Reorder(ctx, []string{"x"})
	if !errors.Is(err, services.ErrOrderingConflict) || err.Error() != "job x is not queued" {
		t.Fatalf("unexpected reorder error %v", err)
	}
	if _, err := c.Job(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.Status(ctx); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestAPIClientDownloadsExport(t *testing.T) {
	c := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batches/b1/export" || r.URL.Query().Get("format") != "srt" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK-archive"))
	})
	var buf bytes.Buffer
	n, err := c.ExportBatch(context.Background(), "b1", "srt", &buf)
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if n != int64(buf.Len()) || buf.String() != "PK-archive" {
		t.Fatalf("unexpected download %q (%d bytes)", buf.String(), n)
	}
}

func TestAPIClientHistoryQuery(t *testing.T) {
	c := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed" || q.Get("limit") != "5" || q.Get("q") != "talk" || q.Has("offset") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, api.HistoryResponse{Jobs: []api.Job{{ID: "a"}}, Total: 1, Limit: 5})
	})
	page, err := c.History(context.Background(), api.HistoryQuery{Query: "talk", Status: "failed", Limit: 5})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if page.Total != 1 || page.Jobs[0].ID != "a" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestAPIClientEditSegmentAndMove(t *testing.T) {
	c := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/jobs/j1/segments/3":
			var edit transcript.SegmentEdit
			_ = json.NewDecoder(r.Body).Decode(&edit)
			if edit.Speaker == nil || *edit.Speaker != "Ada" {
				t.Errorf("speaker not sent: %+v", edit)
			}
			writeJSON(w, http.StatusOK, transcript.Segment{ID: 3, Text: edit.Text, Speaker: *edit.Speaker})
		case r.Method == http.MethodPost && r.URL.Path == "/api/queue/j2/move":
			var req api.MoveRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, http.StatusOK, api.QueueSnapshot{Seq: 9, Jobs: []api.Job{{ID: "j2", QueuePosition: req.Position}}})
		default:
			t.Errorf("unexpected route %s %s", r.Method, r.URL.Path)
		}
	})

	speaker := "Ada"
	seg, err := c.EditSegment(context.Background(), "j1", 3, transcript.SegmentEdit{Text: "fixed", Speaker: &speaker})
	if err != nil || seg.ID != 3 || seg.Text != "fixed" || seg.Speaker != "Ada" {
		t.Fatalf("EditSegment = %+v, %v", seg, err)
	}
	snap, err := c.Move(context.Background(), "j2", 1)
	if err != nil || snap.Jobs[0].QueuePosition != 1 {
		t.Fatalf("Move = %+v, %v", snap, err)
	}
}

func TestNewAPIClientRejectsEmptyURL(t *testing.T) {
	if _, err := client.NewAPIClient("  ", "", nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
