package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call invokes method and restores the error kind encoded by the server.
func (c *Client) call(method string, req, resp any) error {
	err := c.client.Call(serviceName+"."+method, req, resp)
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	msg := string(serverErr)
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "] "); end > 0 {
			return services.FromKind(msg[1:end], msg[end+2:])
		}
	}
	return services.FromKind("", msg)
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Queue returns the live queue snapshot.
func (c *Client) Queue() (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.call("Queue", QueueRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs optionally filtered by statuses.
func (c *Client) JobList(statuses []string) (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.call("JobList", JobListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobShow returns a single job.
func (c *Client) JobShow(id string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.call("JobShow", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues one file.
func (c *Client) Submit(req SubmitRequest) (*JobResponse, error) {
	var resp JobResponse
	if err := c.call("Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a queued or running job.
func (c *Client) Cancel(id string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.call("Cancel", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remove deletes a job, cancelling it first if needed.
func (c *Client) Remove(id string) (*RemoveResponse, error) {
	var resp RemoveResponse
	if err := c.call("Remove", JobRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reorder applies an explicit order to queued jobs.
func (c *Client) Reorder(jobIDs []string) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.call("Reorder", ReorderRequest{JobIDs: jobIDs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPriority changes one queued job's priority.
func (c *Client) SetPriority(id string, priority int) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.call("SetPriority", PriorityRequest{ID: id, Priority: priority}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Move places one queued job at a 1-based position.
func (c *Client) Move(id string, position int) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.call("Move", MoveRequest{ID: id, Position: position}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcript renders a completed job's transcript.
func (c *Client) Transcript(id, format string) (*TranscriptResponse, error) {
	var resp TranscriptResponse
	if err := c.call("Transcript", TranscriptRequest{ID: id, Format: format}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RenameSpeakers relabels diarized speakers of a completed job.
func (c *Client) RenameSpeakers(id string, speakers map[string]string) (*RenameSpeakersResponse, error) {
	var resp RenameSpeakersResponse
	if err := c.call("RenameSpeakers", RenameSpeakersRequest{ID: id, Speakers: speakers}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EditSegment rewrites one segment of a completed job's transcript.
func (c *Client) EditSegment(id string, segment int, edit transcript.SegmentEdit) (*EditSegmentResponse, error) {
	var resp EditSegmentResponse
	if err := c.call("EditSegment", EditSegmentRequest{ID: id, Segment: segment, Edit: edit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchCreate enqueues a batch.
func (c *Client) BatchCreate(req BatchCreateRequest) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.call("BatchCreate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchShow returns a batch with its members.
func (c *Client) BatchShow(id string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.call("BatchShow", BatchRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchList lists batches.
func (c *Client) BatchList() (*BatchListResponse, error) {
	var resp BatchListResponse
	if err := c.call("BatchList", BatchListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchExport writes a batch archive to path on the daemon host.
func (c *Client) BatchExport(id, format, path string) (*BatchExportResponse, error) {
	var resp BatchExportResponse
	if err := c.call("BatchExport", BatchExportRequest{ID: id, Format: format, Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History pages through finished jobs.
func (c *Client) History(req HistoryRequest) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryStats summarizes finished work.
func (c *Client) HistoryStats() (*HistoryStatsResponse, error) {
	var resp HistoryStatsResponse
	if err := c.call("HistoryStats", HistoryStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns streamed log events from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.call("LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
