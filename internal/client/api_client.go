package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediaqueue/internal/api"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

const defaultRequestTimeout = 30 * time.Second

// APIClient calls the daemon's REST routes.
type APIClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

// NewAPIClient builds a client for baseURL (host:port or http[s]://host:port).
// A nil httpClient gets one with a default timeout.
func NewAPIClient(baseURL, token string, httpClient *http.Client) (*APIClient, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, services.Wrap(services.ErrConfiguration, "client", "api", "daemon url is empty", nil)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "client", "api", "invalid daemon url", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &APIClient{base: u, token: token, client: httpClient}, nil
}

// BaseURL returns the daemon URL the client targets.
func (c *APIClient) BaseURL() string { return c.base.String() }

// Submit enqueues one file.
func (c *APIClient) Submit(ctx context.Context, req api.SubmitRequest) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &job)
	return job, err
}

// Jobs lists jobs, optionally filtered by status.
func (c *APIClient) Jobs(ctx context.Context, statuses ...string) ([]api.Job, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", s)
	}
	var jobs []api.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &jobs)
	return jobs, err
}

// Job fetches one job.
func (c *APIClient) Job(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, nil, &job)
	return job, err
}

// Cancel cancels a queued or processing job.
func (c *APIClient) Cancel(ctx context.Context, id string) (api.Job, error) {
	var job api.Job
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, nil, &job)
	return job, err
}

// Delete removes a job, cancelling it first when it is running.
func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil, nil)
}

// Transcript copies the rendered transcript of a completed job to w.
func (c *APIClient) Transcript(ctx context.Context, id, format string, w io.Writer) (int64, error) {
	query := url.Values{}
	if format != "" {
		query.Set("format", format)
	}
	return c.download(ctx, "/api/jobs/"+url.PathEscape(id)+"/transcript", query, w)
}

// RenameSpeakers relabels diarized speakers of a completed job.
func (c *APIClient) RenameSpeakers(ctx context.Context, id string, speakers map[string]string) (int, error) {
	var resp api.RenameSpeakersResponse
	err := c.do(ctx, http.MethodPatch, "/api/jobs/"+url.PathEscape(id)+"/speakers", nil, api.RenameSpeakersRequest{Speakers: speakers}, &resp)
	return resp.Changed, err
}

// Queue fetches the live queue snapshot.
func (c *APIClient) Queue(ctx context.Context) (api.QueueSnapshot, error) {
	var snap api.QueueSnapshot
	err := c.do(ctx, http.MethodGet, "/api/queue", nil, nil, &snap)
	return snap, err
}

// Reorder applies the given order to the named queued jobs.
func (c *APIClient) Reorder(ctx context.Context, jobIDs []string) (api.QueueSnapshot, error) {
	var snap api.QueueSnapshot
	err := c.do(ctx, http.MethodPost, "/api/queue/reorder", nil, api.ReorderRequest{JobIDs: jobIDs}, &snap)
	return snap, err
}

// SetPriority changes one queued job's priority.
func (c *APIClient) SetPriority(ctx context.Context, id string, priority int) (api.QueueSnapshot, error) {
	var snap api.QueueSnapshot
	err := c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/priority", nil, api.PriorityRequest{Priority: priority}, &snap)
	return snap, err
}

// Move places one queued job at a 1-based queue position.
func (c *APIClient) Move(ctx context.Context, id string, position int) (api.QueueSnapshot, error) {
	var snap api.QueueSnapshot
	err := c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/move", nil, api.MoveRequest{Position: position}, &snap)
	return snap, err
}

// EditSegment rewrites one segment of a completed job's transcript.
func (c *APIClient) EditSegment(ctx context.Context, id string, segment int, edit transcript.SegmentEdit) (transcript.Segment, error) {
	var seg transcript.Segment
	path := fmt.Sprintf("/api/jobs/%s/segments/%d", url.PathEscape(id), segment)
	err := c.do(ctx, http.MethodPatch, path, nil, edit, &seg)
	return seg, err
}

// CreateBatch enqueues a batch of files.
func (c *APIClient) CreateBatch(ctx context.Context, req api.BatchRequest) (api.Batch, error) {
	var b api.Batch
	err := c.do(ctx, http.MethodPost, "/api/batches", nil, req, &b)
	return b, err
}

// Batches lists batches without their members.
func (c *APIClient) Batches(ctx context.Context) ([]api.Batch, error) {
	var out []api.Batch
	err := c.do(ctx, http.MethodGet, "/api/batches", nil, nil, &out)
	return out, err
}

// Batch fetches one batch with its members.
func (c *APIClient) Batch(ctx context.Context, id string) (api.Batch, error) {
	var b api.Batch
	err := c.do(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), nil, nil, &b)
	return b, err
}

// DeleteBatch removes a batch and its members.
func (c *APIClient) DeleteBatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/batches/"+url.PathEscape(id), nil, nil, nil)
}

// ExportBatch copies the batch archive to w.
func (c *APIClient) ExportBatch(ctx context.Context, id, format string, w io.Writer) (int64, error) {
	query := url.Values{}
	if format != "" {
		query.Set("format", format)
	}
	return c.download(ctx, "/api/batches/"+url.PathEscape(id)+"/export", query, w)
}

// History pages through finished jobs.
func (c *APIClient) History(ctx context.Context, q api.HistoryQuery) (api.HistoryResponse, error) {
	query := url.Values{}
	for key, value := range map[string]string{"q": q.Query, "status": q.Status, "since": q.Since, "until": q.Until} {
		if value != "" {
			query.Set(key, value)
		}
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	var page api.HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/history", query, nil, &page)
	return page, err
}

// HistoryStats summarizes finished work.
func (c *APIClient) HistoryStats(ctx context.Context) (api.HistoryStatsResponse, error) {
	var stats api.HistoryStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/history/stats", nil, nil, &stats)
	return stats, err
}

// Status returns daemon diagnostics.
func (c *APIClient) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &status)
	return status, err
}

// Logs fetches log events after since, waiting up to wait for new ones.
func (c *APIClient) Logs(ctx context.Context, since uint64, limit int, wait time.Duration) (api.LogStreamResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		query.Set("wait", strconv.FormatInt(wait.Milliseconds(), 10))
	}
	var resp api.LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &resp)
	return resp, err
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.base
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "client", method+" "+path, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "client", method+" "+path, "decode response", err)
	}
	return nil
}

func (c *APIClient) download(ctx context.Context, path string, query url.Values, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Del("Accept")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "client", "GET "+path, "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}
	if body.Kind == "" {
		body.Kind = kindForStatus(resp.StatusCode)
	}
	return services.FromKind(body.Kind, body.Error)
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "ordering_conflict"
	case http.StatusServiceUnavailable:
		return "configuration"
	default:
		return "transient"
	}
}
