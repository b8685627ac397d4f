package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediaqueue/internal/api"
	"mediaqueue/internal/config"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/notifications"
	"mediaqueue/internal/preflight"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	logHub   *logging.StreamHub
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	mu          sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	gateway     *gateway.Gateway
	gatewayDone chan struct{}
	api         *apiServer
}

// New constructs a daemon with initialized dependencies. logHub may be nil,
// in which case /api/logs returns nothing.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, logHub *logging.StreamHub) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		logHub:   logHub,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the workflow and the event gateway,
// and opens the HTTP API when a bind address is configured.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaqueued instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	gw := gateway.New(d.cfg, d.workflow.Bus(), d.Snapshot, d.workflow, d.logger)
	gwDone := make(chan struct{})
	go func() {
		defer close(gwDone)
		gw.Run(runCtx)
	}()

	srv := newAPIServer(d.cfg, d, gw, d.logger)
	if srv != nil {
		if err := srv.start(runCtx); err != nil {
			cancel()
			<-gwDone
			d.workflow.Stop()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.cancel = cancel
	d.gateway = gw
	d.gatewayDone = gwDone
	d.api = srv
	d.running.Store(true)
	d.logger.Info("mediaqueue daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddr()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop closes the API, disconnects clients, stops the workflow and releases
// the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.gatewayDone != nil {
		<-d.gatewayDone
		d.gatewayDone = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
		)
	}
	d.api = nil
	d.gateway = nil
	d.running.Store(false)
	d.logger.Info("mediaqueue daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Workflow returns the workflow manager.
func (d *Daemon) Workflow() *workflow.Manager { return d.workflow }

// Config returns the daemon configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }

// LogStream returns the in-memory log hub, if any.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// APIAddr returns the address the HTTP API listens on, or "" when it is off.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Snapshot returns the live queue snapshot.
func (d *Daemon) Snapshot() api.QueueSnapshot {
	return api.FromSnapshot(d.workflow.Snapshot())
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StorageBackend: d.cfg.Storage.Backend,
		StoragePath:    d.cfg.StoragePath(),
		LockFilePath:   d.lockPath,
		SocketPath:     d.cfg.SocketPath(),
		APIBind:        d.APIAddr(),
		Workflow:       api.FromStatusSummary(d.workflow.Status(ctx)),
		Dependencies:   api.FromDependencies(preflight.CheckSystemDeps(d.cfg)),
		Preflight:      api.FromPreflight(d.workflow.Preflight()),
	}
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
