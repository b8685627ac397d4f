package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	WorkDir  string `toml:"work_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Storage selects the persistence backend for the job table.
type Storage struct {
	Backend string `toml:"backend"`
	// Path overrides the default database location inside data_dir.
	Path string `toml:"path"`
}

// Scheduler contains slot and priority settings.
type Scheduler struct {
	Slots           int `toml:"slots"`
	DefaultPriority int `toml:"default_priority"`
}

// Pipeline contains stage weights and collaborator settings.
type Pipeline struct {
	Weights map[string]float64 `toml:"weights"`
	// Commands maps a stage name to an external executable plus argument
	// template. Stages without a command run the built-in simulation.
	Commands               map[string][]string `toml:"commands"`
	SimulatedSeconds       map[string]float64  `toml:"simulated_seconds"`
	CommandGraceSeconds    int                 `toml:"command_grace_seconds"`
	DefaultLanguage        string              `toml:"default_language"`
	DefaultOutputFormats   []string            `toml:"default_output_formats"`
	DefaultSyncTiming      bool                `toml:"default_sync_timing"`
	ProgressPersistPercent float64             `toml:"progress_persist_percent"`
}

// Gateway contains WebSocket fan-out settings.
type Gateway struct {
	PingIntervalSeconds int      `toml:"ping_interval"`
	WriteTimeoutSeconds int      `toml:"write_timeout"`
	SubscriberBuffer    int      `toml:"subscriber_buffer"`
	EventHistory        int      `toml:"event_history"`
	AllowedOrigins      []string `toml:"allowed_origins"`
}

// Reconnect contains the client reconnect backoff policy.
type Reconnect struct {
	BaseMillis  int     `toml:"base_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxMillis   int     `toml:"max_ms"`
	MaxAttempts int     `toml:"max_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailures    bool   `toml:"job_failures"`
	QueueDrained   bool   `toml:"queue_drained"`
	Batches        bool   `toml:"batches"`
}

// Workflow contains configuration for daemon timing and preflight.
type Workflow struct {
	ErrorRetryInterval int `toml:"error_retry_interval"`
	MinFreeDiskMiB     int `toml:"min_free_disk_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for mediaqueue.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Storage: job table backend (sqlite, badger, memory)
//   - Scheduler: processing slots and default priority
//   - Pipeline: stage weights, external commands, simulation timings
//   - Gateway: WebSocket keepalive and buffering
//   - Reconnect: client backoff policy
//   - Notifications: ntfy push notification settings
//   - Workflow: retry interval and disk preflight
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Gateway       Gateway       `toml:"gateway"`
	Reconnect     Reconnect     `toml:"reconnect"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the JSON-RPC control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaqueued.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaqueued.lock")
}

// PIDPath is where mediaqueued records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaqueued.pid")
}

// StoragePath returns the database location for the configured backend.
func (c *Config) StoragePath() string {
	if strings.TrimSpace(c.Storage.Path) != "" {
		return c.Storage.Path
	}
	switch c.Storage.Backend {
	case BackendBadger:
		return filepath.Join(c.Paths.DataDir, "jobs.badger")
	case BackendMemory:
		return ""
	default:
		return filepath.Join(c.Paths.DataDir, "jobs.db")
	}
}

// JobWorkDir returns the per-job scratch directory for stage artifacts.
func (c *Config) JobWorkDir(jobID string) string {
	return filepath.Join(c.Paths.WorkDir, jobID)
}

// StageCommand returns the configured command line for a stage, if any.
func (c *Config) StageCommand(stage string) []string {
	if c.Pipeline.Commands == nil {
		return nil
	}
	return c.Pipeline.Commands[stage]
}

// StageWeight returns the progress weight of a stage.
func (c *Config) StageWeight(stage string) float64 {
	return c.Pipeline.Weights[stage]
}

// SimulatedDuration returns how long the built-in simulation of a stage runs.
func (c *Config) SimulatedDuration(stage string) time.Duration {
	seconds := c.Pipeline.SimulatedSeconds[stage]
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// PriorityBounds returns the inclusive user-facing priority range.
func PriorityBounds() (int, int) {
	return minPriority, maxPriority
}

// PingInterval returns the gateway keepalive interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Gateway.PingIntervalSeconds) * time.Second
}

// WriteTimeout returns the per-message gateway write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Gateway.WriteTimeoutSeconds) * time.Second
}
