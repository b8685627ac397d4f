package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

// HistoryQuery is the transport form of a history filter, shared by the HTTP
// query string and the RPC request.
type HistoryQuery struct {
	Query  string `json:"q,omitempty"`
	Status string `json:"status,omitempty"`
	Since  string `json:"since,omitempty"`
	Until  string `json:"until,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ParseHistoryQuery reads q, status, since, until, limit and offset.
func ParseHistoryQuery(values url.Values) (HistoryQuery, error) {
	q := HistoryQuery{
		Query:  values.Get("q"),
		Status: values.Get("status"),
		Since:  values.Get("since"),
		Until:  values.Get("until"),
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return HistoryQuery{}, services.Wrap(services.ErrValidation, "api", "history", fmt.Sprintf("invalid %s %q", name, raw), nil)
		}
		*dst = n
	}
	return q, nil
}

// Filter validates the query and converts it for the store. Dates accept
// RFC3339 or YYYY-MM-DD.
func (q HistoryQuery) Filter() (queue.HistoryFilter, error) {
	filter := queue.HistoryFilter{Query: q.Query, Limit: q.Limit, Offset: q.Offset}
	if raw := strings.TrimSpace(q.Status); raw != "" {
		status := queue.Status(strings.ToLower(raw))
		if !status.IsTerminal() {
			return queue.HistoryFilter{}, services.Wrap(services.ErrValidation, "api", "history", "status must be completed, failed or cancelled", nil)
		}
		filter.Status = status
	}
	var err error
	if filter.Since, err = parseDate(q.Since); err != nil {
		return queue.HistoryFilter{}, err
	}
	if filter.Until, err = parseDate(q.Until); err != nil {
		return queue.HistoryFilter{}, err
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, services.Wrap(services.ErrValidation, "api", "history", "invalid date "+raw, nil)
}

// ParseFormat resolves an optional ?format= value, defaulting to fallback.
func ParseFormat(raw string, fallback transcript.Format) (transcript.Format, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	format, err := transcript.ParseFormat(raw)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "api", "format", "unsupported format "+raw, nil)
	}
	return format, nil
}
