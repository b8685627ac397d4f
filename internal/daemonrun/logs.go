package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mediaqueue/internal/config"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/logs"
	"mediaqueue/internal/preflight"
)

const streamCapacity = 4096

// daemonLog is the logger of one daemon run and the files it writes.
type daemonLog struct {
	logger   *slog.Logger
	hub      *logging.StreamHub
	dailyLog string
	debugLog string
}

func openDaemonLog(cfg *config.Config, opts Options, runID string) (*daemonLog, error) {
	dl := &daemonLog{
		hub:      logging.NewStreamHub(streamCapacity),
		dailyLog: logging.DailyLogPath(cfg.Paths.LogDir, time.Now()),
	}
	outputs := []string{dl.dailyLog}
	if opts.Stdout {
		outputs = append(outputs, "stdout")
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
		Stream:      dl.hub,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	dl.logger = logger.With(logging.String("run_id", runID))

	if opts.Diagnostic {
		if err := dl.attachDebugLog(cfg.Paths.LogDir, runID); err != nil {
			fmt.Fprintf(os.Stderr, "warn: diagnostic log unavailable: %v\n", err)
		}
	}
	if err := pointCurrentLog(cfg.Paths.LogDir, dl.dailyLog); err != nil {
		fmt.Fprintf(os.Stderr, "warn: %v\n", err)
	}
	return dl, nil
}

// attachDebugLog tees every record, debug included, as JSON into
// <log_dir>/debug/mediaqueued-<run>.log.
func (dl *daemonLog) attachDebugLog(logDir, runID string) error {
	path := filepath.Join(logDir, "debug", "mediaqueued-"+runID+".log")
	debug, err := logging.New(logging.Options{Level: "debug", Format: "json", OutputPaths: []string{path}, Development: true})
	if err != nil {
		return err
	}
	dl.logger = logging.TeeLogger(dl.logger, debug.With(logging.String("run_id", runID)).Handler())
	dl.debugLog = path
	dl.logger.Info("diagnostic mode enabled",
		logging.String("debug_log_path", path),
		logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
	)
	return nil
}

// prune applies log retention to daily, per-job and debug logs, sparing the
// files this run writes.
func (dl *daemonLog) prune(cfg *config.Config) {
	dir := cfg.Paths.LogDir
	logging.CleanupOldLogs(dl.logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: dir, Pattern: "mediaqueued-*.log", Exclude: []string{dl.dailyLog}},
		logging.RetentionTarget{Dir: filepath.Join(dir, "jobs"), Pattern: "*.log"},
		logging.RetentionTarget{Dir: filepath.Join(dir, "debug"), Pattern: "*.log", Exclude: []string{dl.debugLog}},
	)
}

// pointCurrentLog makes <log_dir>/mediaqueued.log refer to target, as a
// symlink where possible and a hard link otherwise.
func pointCurrentLog(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	link := logs.DaemonLogPath(logDir)
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", link, err)
	}
	if os.Symlink(target, link) == nil {
		return nil
	}
	if err := os.Link(target, link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	return nil
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config) {
	args := []any{
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Int("slots", cfg.Scheduler.Slots),
		logging.Bool("api_enabled", cfg.Paths.APIBind != ""),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
	}
	for _, st := range preflight.CheckSystemDeps(cfg) {
		args = append(args, logging.Bool(st.Name+"_available", st.Available))
	}
	args = append(args, logging.String(logging.FieldEventType, "dependency_snapshot"))
	logger.Info("dependency snapshot", args...)
}
