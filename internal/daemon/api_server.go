package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediaqueue/internal/api"
	"mediaqueue/internal/config"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
	"mediaqueue/internal/workflow"
)

const (
	maxBodyBytes     = 1 << 20
	defaultLogLimit  = 200
	maxLogWait       = 30 * time.Second
	shutdownDeadline = 5 * time.Second
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	wf      *workflow.Manager
	gateway *gateway.Gateway
	sync    bool

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, gw *gateway.Gateway, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &apiServer{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		wf:      d.workflow,
		gateway: gw,
		sync:    cfg.Pipeline.DefaultSyncTiming,
	}
	s.server = &http.Server{
		Handler:           s.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(token))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleDeleteJob)
				r.Post("/cancel", s.handleCancelJob)
				r.Get("/transcript", s.handleTranscript)
				r.Patch("/speakers", s.handleRenameSpeakers)
				r.Patch("/segments/{segment}", s.handleEditSegment)
			})
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueue)
			r.Post("/reorder", s.handleReorder)
			r.Post("/{id}/priority", s.handleSetPriority)
			r.Post("/{id}/move", s.handleMove)
			if s.gateway != nil {
				r.Handle("/ws", s.gateway)
			}
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.handleCreateBatch)
			r.Get("/", s.handleListBatches)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBatch)
				r.Delete("/", s.handleDeleteBatch)
				r.Get("/export", s.handleExportBatch)
			})
		})

		r.Get("/history", s.handleHistory)
		r.Get("/history/stats", s.handleHistoryStats)
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", "bind "+s.bind, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "HTTP clients cannot reach the daemon"),
			)
		}
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []logging.Attr{
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("duration", time.Since(start)),
			logging.String(logging.FieldEventType, "api_request"),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("api request failed", logging.Args(attrs...)...)
			return
		}
		s.logger.Debug("api request", logging.Args(attrs...)...)
	})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.wf.Submit(r.Context(), req.JobRequest(s.sync))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.jobDTO(job))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			if part == "" {
				continue
			}
			status := queue.Status(part)
			if !status.Valid() {
				s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list jobs", "unknown status "+part, nil))
				return
			}
			statuses = append(statuses, status)
		}
	}
	jobs := s.wf.List(statuses...)
	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.jobDTO(job))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.wf.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.jobDTO(job))
}

func (s *apiServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.wf.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.wf.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.jobDTO(job))
}

func (s *apiServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	format, err := api.ParseFormat(r.URL.Query().Get("format"), transcript.FormatJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.wf.Transcript(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := transcript.Render(&buf, t, format); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *apiServer) handleRenameSpeakers(w http.ResponseWriter, r *http.Request) {
	var req api.RenameSpeakersRequest
	if !s.decode(w, r, &req) {
		return
	}
	changed, err := s.wf.RenameSpeakers(chi.URLParam(r, "id"), req.Speakers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RenameSpeakersResponse{Changed: changed})
}

func (s *apiServer) handleEditSegment(w http.ResponseWriter, r *http.Request) {
	segmentID, err := strconv.Atoi(chi.URLParam(r, "segment"))
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "edit segment", "segment id must be an integer", nil))
		return
	}
	var req transcript.SegmentEdit
	if !s.decode(w, r, &req) {
		return
	}
	seg, err := s.wf.EditSegment(chi.URLParam(r, "id"), segmentID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seg)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Snapshot())
}

func (s *apiServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req api.ReorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.wf.Reorder(r.Context(), req.JobIDs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Snapshot())
}

func (s *apiServer) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req api.PriorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.wf.SetPriority(r.Context(), chi.URLParam(r, "id"), req.Priority); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Snapshot())
}

func (s *apiServer) handleMove(w http.ResponseWriter, r *http.Request) {
	var req api.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.wf.Move(r.Context(), chi.URLParam(r, "id"), req.Position); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Snapshot())
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.wf.Batches().Create(r.Context(), req.CreateRequest(s.sync))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromBatchView(view, true))
}

func (s *apiServer) handleListBatches(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromBatchViews(s.wf.Batches().List()))
}

func (s *apiServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.wf.Batches().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBatchView(view, true))
}

func (s *apiServer) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.wf.Batches().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	format, err := api.ParseFormat(r.URL.Query().Get("format"), transcript.FormatTXT)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	// Buffered so a late failure still produces an error response.
	var buf bytes.Buffer
	manifest, err := s.wf.Batches().Export(r.Context(), id, format, &buf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(manifest.BatchName, id)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query, err := api.ParseHistoryQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := query.Filter()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromHistoryPage(s.wf.History(filter)))
}

func (s *apiServer) handleHistoryStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromHistoryStats(s.wf.HistoryStats()))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: nil, Next: 0})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if truthy(query.Get("tail")) && since == 0 {
		events, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
		return
	}

	ctx := r.Context()
	wait := false
	if ms, err := strconv.Atoi(query.Get("wait")); err == nil && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, min(time.Duration(ms)*time.Millisecond, maxLogWait))
		defer cancel()
		wait = true
	}
	events, next, err := hub.Fetch(ctx, since, limit, wait)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, r, err)
		return
	}
	if next < since {
		next = since
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
}

func (s *apiServer) jobDTO(job *queue.Job) api.Job {
	dto := api.FromJob(job)
	if pos, ok := s.wf.Position(job.ID); ok {
		dto.QueuePosition = pos
	}
	return dto
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload, s.logger)
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(s.logger, "api request error", "api_error",
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorFrom(err))
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

func exportName(batchName, id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, batchName)
	if name == "" {
		name = id
	}
	return name + ".zip"
}

func truthy(raw string) bool {
	raw = strings.TrimSpace(raw)
	return raw == "1" || strings.EqualFold(raw, "true")
}
