package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"mediaqueue/internal/config"
	"mediaqueue/internal/daemon"
	"mediaqueue/internal/ipc"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/notifications"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/stage"
	"mediaqueue/internal/workflow"
)

// Options are the mediaqueued command-line switches.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic tees debug-level JSON logs into <log_dir>/debug.
	Diagnostic bool
	// Stdout also writes logs to standard output.
	Stdout bool
}

// Run wires store, workflow, daemon and control socket together, starts
// processing and blocks until ctx ends or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dl, err := openDaemonLog(cfg, opts, uuid.NewString())
	if err != nil {
		return err
	}
	logger := dl.logger
	dl.prune(cfg)
	logStartupSnapshot(logger, cfg)

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store failed", logging.Error(err), logging.String(logging.FieldEventType, "store_open_failed"))
		return err
	}
	defer store.Close()

	manager := workflow.NewManagerWithOptions(cfg, store, logger,
		workflow.WithStages(stage.NewRegistry(cfg)),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)
	d, err := daemon.New(cfg, store, logger, manager, dl.hub)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer srv.Close()
	srv.Serve()

	if err := d.Start(ctx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and storage access"),
			logging.String(logging.FieldImpact, "jobs wait until `mediaqueue start` succeeds"),
		)
	}

	<-ctx.Done()
	logger.Info("mediaqueue daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
