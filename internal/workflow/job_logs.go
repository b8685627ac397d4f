package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"mediaqueue/internal/config"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
)

// JobLogs manages one log file per job under <log_dir>/jobs.
type JobLogs struct {
	baseDir string
	cfg     *config.Config
}

// NewJobLogs creates a per-job log manager. It is inert when no log
// directory is configured.
func NewJobLogs(cfg *config.Config) *JobLogs {
	dir := ""
	if cfg != nil && cfg.Paths.LogDir != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "jobs")
	}
	return &JobLogs{baseDir: dir, cfg: cfg}
}

// Path returns the log file of a job. Repeated runs of the same job append
// to the same file.
func (j *JobLogs) Path(job *queue.Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(j.baseDir) == "" {
		return "", fmt.Errorf("job log directory not configured")
	}
	return filepath.Join(j.baseDir, j.filename(job)), nil
}

// Logger returns base teed into the job's log file plus a release function
// closing the file. It satisfies pipeline.JobLogFactory.
func (j *JobLogs) Logger(job *queue.Job, base *slog.Logger) (*slog.Logger, func(), error) {
	path, err := j.Path(job)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log: %w", err)
	}

	level := "info"
	if j.cfg != nil && strings.TrimSpace(j.cfg.Logging.Level) != "" {
		level = j.cfg.Logging.Level
	}
	fileLogger, err := logging.New(logging.Options{
		Level:  level,
		Format: "json",
		Writer: file,
	})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	handler := fileLogger.Handler().WithAttrs([]slog.Attr{slog.String(logging.FieldJobID, job.ID)})
	return logging.TeeLogger(base, handler), func() { _ = file.Close() }, nil
}

func (j *JobLogs) filename(job *queue.Job) string {
	day := job.CreatedAt
	if day.IsZero() {
		day = time.Now()
	}
	title := sanitizeSlug(strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename)))
	if title == "" {
		title = "untitled"
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s-%s.log", day.UTC().Format("20060102"), id, title)
}

func sanitizeSlug(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(value))
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
			lastDash = false
		case unicode.IsDigit(r):
			builder.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(builder.String(), "-")
}
