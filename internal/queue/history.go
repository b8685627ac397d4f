package queue

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryFilter narrows the terminal-job history listing.
type HistoryFilter struct {
	Query  string
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// HistoryPage is one page of terminal jobs plus the unpaged match count.
type HistoryPage struct {
	Jobs   []*Job `json:"jobs"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// HistoryStats summarizes finished work.
type HistoryStats struct {
	Counts               map[Status]int `json:"statusCounts"`
	TotalCompleted       int            `json:"totalCompleted"`
	TotalFailed          int            `json:"totalFailed"`
	AvgProcessingSeconds float64        `json:"avgProcessingSeconds"`
}

// History lists terminal jobs, most recently finished first.
func (s *Store) History(filter HistoryFilter) HistoryPage {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	offset := max(filter.Offset, 0)
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	var matched []*Job
	for _, job := range s.ListByStatus(StatusCompleted, StatusFailed, StatusCancelled) {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && job.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && job.CreatedAt.After(filter.Until) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(job.Filename), query) &&
			!strings.Contains(strings.ToLower(job.Options.Language), query) {
			continue
		}
		matched = append(matched, job)
	}
	slices.SortStableFunc(matched, func(a, b *Job) int {
		if c := finishedAt(b).Compare(finishedAt(a)); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	page := HistoryPage{Total: len(matched), Limit: limit, Offset: offset, Jobs: []*Job{}}
	if offset < len(matched) {
		page.Jobs = matched[offset:min(offset+limit, len(matched))]
	}
	return page
}

// HistoryStats computes totals over every job in the table.
func (s *Store) HistoryStats() HistoryStats {
	stats := HistoryStats{Counts: s.Stats().Counts}
	stats.TotalCompleted = stats.Counts[StatusCompleted]
	stats.TotalFailed = stats.Counts[StatusFailed]

	var total time.Duration
	samples := 0
	for _, job := range s.ListByStatus(StatusCompleted) {
		if job.StartedAt == nil || job.CompletedAt == nil {
			continue
		}
		total += job.CompletedAt.Sub(*job.StartedAt)
		samples++
	}
	if samples > 0 {
		stats.AvgProcessingSeconds = total.Seconds() / float64(samples)
	}
	return stats
}

func finishedAt(job *Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}
