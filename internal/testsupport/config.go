package testsupport

import (
	"path/filepath"
	"testing"

	"mediaqueue/internal/config"
)

// ConfigOption adjusts a test config after the defaults are applied.
type ConfigOption func(*config.Config)

// NewConfig returns a config rooted in a fresh temp directory: memory
// storage, every simulated stage at 20ms, no disk-space floor and an
// ephemeral API port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Storage.Backend = config.BackendMemory
	cfg.Workflow.MinFreeDiskMiB = 0
	for name := range cfg.Pipeline.SimulatedSeconds {
		cfg.Pipeline.SimulatedSeconds[name] = 0.02
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBackend selects the job store backend.
func WithBackend(backend string) ConfigOption {
	return func(cfg *config.Config) { cfg.Storage.Backend = backend }
}

// WithSlots sets the number of concurrent job slots.
func WithSlots(n int) ConfigOption {
	return func(cfg *config.Config) { cfg.Scheduler.Slots = n }
}

// BaseDir is the temp directory NewConfig rooted cfg in.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
