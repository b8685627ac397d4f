package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediaqueue/internal/batch"
	"mediaqueue/internal/config"
	"mediaqueue/internal/events"
	"mediaqueue/internal/logging"
	"mediaqueue/internal/notifications"
	"mediaqueue/internal/pipeline"
	"mediaqueue/internal/preflight"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/scheduler"
	"mediaqueue/internal/stage"
)

// Manager coordinates job processing across the configured slots.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	sched    *scheduler.Scheduler
	exec     *pipeline.Executor
	bus      *events.Bus
	stages   stage.Registry
	batches  *batch.Coordinator
	notifier notifications.Service
	jobLogs  *JobLogs
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	editMu   sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastJob  *queue.Job
	notified map[string]struct{}
	checks   []preflight.Result

	queueActive    bool
	queueStart     time.Time
	queueCompleted int
	queueFailed    int

	hooks testHooks
}

// testHooks let tests interleave with multi-step reads. Nil hooks are skipped.
type testHooks struct {
	deleteRead         func(id string)
	snapshotQueuedRead func()
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	stages   stage.Registry
	notifier notifications.Service
	bus      *events.Bus
}

// WithStages replaces the stage registry built from config.
func WithStages(stages stage.Registry) ManagerOption {
	return func(o *managerOptions) { o.stages = stages }
}

// WithNotifier replaces the ntfy notifier (used in tests).
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) { o.notifier = notifier }
}

// WithBus shares an existing event bus.
func WithBus(bus *events.Bus) ManagerOption {
	return func(o *managerOptions) { o.bus = bus }
}

// NewManager constructs a workflow manager with config-derived collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithOptions(cfg, store, logger)
}

// NewManagerWithOptions constructs a workflow manager with full configuration.
func NewManagerWithOptions(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if options.stages == nil {
		options.stages = stage.NewRegistry(cfg)
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}
	if options.bus == nil {
		options.bus = events.NewBus(cfg.Gateway.EventHistory, logger)
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		bus:      options.bus,
		stages:   options.stages,
		notifier: options.notifier,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	m.sched = scheduler.New(store, cfg.Scheduler.Slots, logger)
	m.exec = pipeline.New(cfg, store, m.bus, m.stages, logger)
	m.jobLogs = NewJobLogs(cfg)
	m.exec.SetJobLogs(m.jobLogs.Logger)
	m.batches = batch.NewCoordinator(store, m, logger)
	return m
}

// Bus returns the event bus the manager publishes on.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Batches returns the batch coordinator bound to this manager.
func (m *Manager) Batches() *batch.Coordinator { return m.batches }

// Store returns the job store.
func (m *Manager) Store() *queue.Store { return m.store }
