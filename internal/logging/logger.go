package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mediaqueue/internal/config"
)

// Options configures New.
type Options struct {
	Level  string
	Format string // "console" (default) or "json"
	// OutputPaths are files, or the literals stdout and stderr.
	OutputPaths []string
	// Writer replaces OutputPaths. The caller closes it.
	Writer      io.Writer
	Development bool
	Stream      *StreamHub
}

// New builds a logger. Debug level or Development adds caller locations.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	source := opts.Development || level <= slog.LevelDebug

	out := opts.Writer
	if out == nil {
		paths := opts.OutputPaths
		if len(paths) == 0 {
			paths = []string{"stdout"}
		}
		var err error
		if out, err = openWriters(paths); err != nil {
			return nil, err
		}
	}

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		handler = newConsoleHandler(out, level, source)
	case "json":
		handler = newJSONHandler(out, level, source)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	if opts.Stream != nil {
		handler = newStreamHandler(handler, opts.Stream)
	}
	return slog.New(handler), nil
}

// NewFromConfig logs to stdout and to today's file in the configured log
// directory.
func NewFromConfig(cfg *config.Config, hub *StreamHub) (*slog.Logger, error) {
	opts := Options{Level: "info", Stream: hub}
	if cfg == nil {
		return New(opts)
	}
	opts.Level, opts.Format = cfg.Logging.Level, cfg.Logging.Format
	opts.OutputPaths = []string{"stdout"}
	if dir := cfg.Paths.LogDir; dir != "" {
		opts.OutputPaths = append(opts.OutputPaths, DailyLogPath(dir, time.Now()))
	}
	return New(opts)
}

// DailyLogPath is the daemon log file for day.
func DailyLogPath(dir string, day time.Time) string {
	return filepath.Join(dir, "mediaqueued-"+day.Format("20060102")+".log")
}

// ForStage applies the per-stage level from overrides, when one is set.
func ForStage(logger *slog.Logger, overrides map[string]string, stage string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if raw := strings.TrimSpace(overrides[stage]); raw != "" {
		return WithLevelOverride(logger, parseLevel(raw))
	}
	return logger
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func openWriters(paths []string) (io.Writer, error) {
	var writers []io.Writer
	var seen []string
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || slices.Contains(seen, path) {
			continue
		}
		seen = append(seen, path)
		w, err := openWriter(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openWriter(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}
