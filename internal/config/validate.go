package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateReconnect(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBadger, BackendMemory:
		return nil
	default:
		return fmt.Errorf("storage.backend %q is not supported (use sqlite, badger, or memory)", c.Storage.Backend)
	}
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Slots < 1 {
		return errors.New("scheduler.slots must be at least 1")
	}
	if c.Scheduler.DefaultPriority < minPriority || c.Scheduler.DefaultPriority > maxPriority {
		return fmt.Errorf("scheduler.default_priority must be between %d and %d", minPriority, maxPriority)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for stage, weight := range c.Pipeline.Weights {
		if !slices.Contains(StageOrder, stage) {
			return fmt.Errorf("pipeline.weights: unknown stage %q", stage)
		}
		if weight <= 0 {
			return fmt.Errorf("pipeline.weights.%s must be positive", stage)
		}
	}
	for stage := range c.Pipeline.Commands {
		if !slices.Contains(StageOrder, stage) {
			return fmt.Errorf("pipeline.commands: unknown stage %q", stage)
		}
	}
	for stage, seconds := range c.Pipeline.SimulatedSeconds {
		if seconds < 0 {
			return fmt.Errorf("pipeline.simulated_seconds.%s must be >= 0", stage)
		}
	}
	for _, format := range c.Pipeline.DefaultOutputFormats {
		switch format {
		case "json", "srt", "vtt", "txt":
		default:
			return fmt.Errorf("pipeline.default_output_formats: unsupported format %q", format)
		}
	}
	if c.Pipeline.ProgressPersistPercent > 50 {
		return errors.New("pipeline.progress_persist_percent must be at most 50")
	}
	return nil
}

func (c *Config) validateGateway() error {
	return ensurePositiveMap(map[string]int{
		"gateway.ping_interval":     c.Gateway.PingIntervalSeconds,
		"gateway.write_timeout":     c.Gateway.WriteTimeoutSeconds,
		"gateway.subscriber_buffer": c.Gateway.SubscriberBuffer,
		"gateway.event_history":     c.Gateway.EventHistory,
	})
}

func (c *Config) validateReconnect() error {
	if c.Reconnect.Multiplier < 1 {
		return errors.New("reconnect.multiplier must be >= 1")
	}
	if c.Reconnect.MaxMillis < c.Reconnect.BaseMillis {
		return errors.New("reconnect.max_ms must be >= reconnect.base_ms")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0 (0 retries forever)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.MinFreeDiskMiB < 0 {
		return errors.New("workflow.min_free_disk_mib must be >= 0")
	}
	for stage, level := range c.Logging.StageOverrides {
		switch strings.ToLower(strings.TrimSpace(level)) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.stage_overrides.%s: unknown level %q", stage, level)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
