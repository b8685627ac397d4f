package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediaqueue/internal/api"
	"mediaqueue/internal/daemon"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

const serviceName = "MediaQueue"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun mediaqueue stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// wireError keeps the error kind across the JSON-RPC string boundary.
func wireError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New("[" + services.Kind(err) + "] " + err.Error())
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) Queue(_ QueueRequest, resp *QueueResponse) error {
	*resp = s.daemon.Snapshot()
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status := queue.Status(strings.ToLower(strings.TrimSpace(raw)))
		if !status.Valid() {
			return wireError(services.Wrap(services.ErrValidation, "ipc", "list", "unknown status "+raw, nil))
		}
		statuses = append(statuses, status)
	}
	resp.Jobs = s.jobs(s.daemon.Workflow().List(statuses...))
	return nil
}

func (s *service) JobShow(req JobRequest, resp *JobResponse) error {
	job, err := s.daemon.Workflow().Get(req.ID)
	if err != nil {
		return wireError(err)
	}
	resp.Job = s.job(job)
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *JobResponse) error {
	job, err := s.daemon.Workflow().Submit(s.ctx, req.JobRequest(s.daemon.Config().Pipeline.DefaultSyncTiming))
	if err != nil {
		return wireError(err)
	}
	resp.Job = s.job(job)
	s.logger.Info("job submitted via IPC",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("filename", job.Filename),
		logging.String(logging.FieldEventType, "ipc_submit"),
	)
	return nil
}

func (s *service) Cancel(req JobRequest, resp *JobResponse) error {
	job, err := s.daemon.Workflow().Cancel(s.ctx, req.ID)
	if err != nil {
		return wireError(err)
	}
	resp.Job = s.job(job)
	return nil
}

func (s *service) Remove(req JobRequest, resp *RemoveResponse) error {
	if err := s.daemon.Workflow().Delete(s.ctx, req.ID); err != nil {
		return wireError(err)
	}
	resp.Removed = true
	return nil
}

func (s *service) Reorder(req ReorderRequest, resp *QueueResponse) error {
	if err := s.daemon.Workflow().Reorder(s.ctx, req.JobIDs); err != nil {
		return wireError(err)
	}
	*resp = s.daemon.Snapshot()
	return nil
}

func (s *service) SetPriority(req PriorityRequest, resp *QueueResponse) error {
	if err := s.daemon.Workflow().SetPriority(s.ctx, req.ID, req.Priority); err != nil {
		return wireError(err)
	}
	*resp = s.daemon.Snapshot()
	return nil
}

func (s *service) Move(req MoveRequest, resp *QueueResponse) error {
	if err := s.daemon.Workflow().Move(s.ctx, req.ID, req.Position); err != nil {
		return wireError(err)
	}
	*resp = s.daemon.Snapshot()
	return nil
}

func (s *service) Transcript(req TranscriptRequest, resp *TranscriptResponse) error {
	format, err := api.ParseFormat(req.Format, transcript.FormatTXT)
	if err != nil {
		return wireError(err)
	}
	t, err := s.daemon.Workflow().Transcript(req.ID)
	if err != nil {
		return wireError(err)
	}
	content, err := transcript.RenderString(t, format)
	if err != nil {
		return wireError(err)
	}
	resp.Format = string(format)
	resp.Content = content
	return nil
}

func (s *service) RenameSpeakers(req RenameSpeakersRequest, resp *RenameSpeakersResponse) error {
	changed, err := s.daemon.Workflow().RenameSpeakers(req.ID, req.Speakers)
	if err != nil {
		return wireError(err)
	}
	resp.Changed = changed
	return nil
}

func (s *service) EditSegment(req EditSegmentRequest, resp *EditSegmentResponse) error {
	seg, err := s.daemon.Workflow().EditSegment(req.ID, req.Segment, req.Edit)
	if err != nil {
		return wireError(err)
	}
	resp.Segment = seg
	return nil
}

func (s *service) BatchCreate(req BatchCreateRequest, resp *BatchResponse) error {
	view, err := s.daemon.Workflow().Batches().Create(s.ctx, req.CreateRequest(s.daemon.Config().Pipeline.DefaultSyncTiming))
	if err != nil {
		return wireError(err)
	}
	resp.Batch = api.FromBatchView(view, true)
	return nil
}

func (s *service) BatchShow(req BatchRequest, resp *BatchResponse) error {
	view, err := s.daemon.Workflow().Batches().Get(req.ID)
	if err != nil {
		return wireError(err)
	}
	resp.Batch = api.FromBatchView(view, true)
	return nil
}

func (s *service) BatchList(_ BatchListRequest, resp *BatchListResponse) error {
	resp.Batches = api.FromBatchViews(s.daemon.Workflow().Batches().List())
	return nil
}

func (s *service) BatchExport(req BatchExportRequest, resp *BatchExportResponse) error {
	format, err := api.ParseFormat(req.Format, transcript.FormatTXT)
	if err != nil {
		return wireError(err)
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return wireError(services.Wrap(services.ErrValidation, "ipc", "export", "output path is required", nil))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.zip")
	if err != nil {
		return wireError(services.Wrap(services.ErrValidation, "ipc", "export", "create output", err))
	}
	defer os.Remove(tmp.Name())
	manifest, err := s.daemon.Workflow().Batches().Export(s.ctx, req.ID, format, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = services.Wrap(services.ErrTransient, "ipc", "export", "write archive", closeErr)
	}
	if err != nil {
		return wireError(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return wireError(services.Wrap(services.ErrTransient, "ipc", "export", "move archive", err))
	}
	info, err := os.Stat(path)
	if err != nil {
		return wireError(services.Wrap(services.ErrTransient, "ipc", "export", "stat archive", err))
	}
	resp.Path = path
	resp.Bytes = info.Size()
	resp.Manifest = manifest
	s.logger.Info("batch exported via IPC",
		logging.String(logging.FieldBatchID, req.ID),
		logging.String("path", path),
		logging.Int("files", len(manifest.Files)),
		logging.Int("omitted", len(manifest.Omitted)),
		logging.String(logging.FieldEventType, "batch_exported"),
	)
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	filter, err := req.Filter()
	if err != nil {
		return wireError(err)
	}
	*resp = api.FromHistoryPage(s.daemon.Workflow().History(filter))
	return nil
}

func (s *service) HistoryStats(_ HistoryStatsRequest, resp *HistoryStatsResponse) error {
	*resp = api.FromHistoryStats(s.daemon.Workflow().HistoryStats())
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	hub := s.daemon.LogStream()
	if hub == nil {
		resp.Next = req.Since
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	if req.Tail && req.Since == 0 {
		events, next := hub.Tail(limit)
		resp.Events = filterLogEvents(events, req.JobID, req.Component)
		resp.Next = next
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, req.Since, limit, req.Follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return wireError(err)
	}
	resp.Events = filterLogEvents(events, req.JobID, req.Component)
	resp.Next = max(next, req.Since)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return wireError(err)
}

func (s *service) job(job *queue.Job) Job {
	dto := api.FromJob(job)
	if pos, ok := s.daemon.Workflow().Position(job.ID); ok {
		dto.QueuePosition = pos
	}
	return dto
}

func (s *service) jobs(list []*queue.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, s.job(job))
	}
	return out
}

func filterLogEvents(events []logging.LogEvent, jobID, component string) []logging.LogEvent {
	if jobID == "" && component == "" {
		return events
	}
	out := make([]logging.LogEvent, 0, len(events))
	for _, evt := range events {
		if jobID != "" && evt.JobID != jobID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		out = append(out, evt)
	}
	return out
}
