package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizePipeline()
	c.normalizeGateway()
	c.normalizeReconnect()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MEDIAQUEUE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(c.Storage.Path) != "" {
		var err error
		if c.Storage.Path, err = expandPath(c.Storage.Path); err != nil {
			return fmt.Errorf("storage.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.Slots == 0 {
		c.Scheduler.Slots = defaultSlots
	}
	if c.Scheduler.DefaultPriority == 0 {
		c.Scheduler.DefaultPriority = defaultPriority
	}
}

func (c *Config) normalizePipeline() {
	weights := defaultWeights()
	for stage, weight := range c.Pipeline.Weights {
		weights[strings.ToLower(strings.TrimSpace(stage))] = weight
	}
	c.Pipeline.Weights = weights

	simulated := defaultSimulatedSeconds()
	for stage, seconds := range c.Pipeline.SimulatedSeconds {
		simulated[strings.ToLower(strings.TrimSpace(stage))] = seconds
	}
	c.Pipeline.SimulatedSeconds = simulated

	if len(c.Pipeline.Commands) > 0 {
		commands := make(map[string][]string, len(c.Pipeline.Commands))
		for stage, argv := range c.Pipeline.Commands {
			if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
				continue
			}
			commands[strings.ToLower(strings.TrimSpace(stage))] = argv
		}
		c.Pipeline.Commands = commands
	}
	if c.Pipeline.CommandGraceSeconds <= 0 {
		c.Pipeline.CommandGraceSeconds = defaultCommandGraceSeconds
	}
	c.Pipeline.DefaultLanguage = strings.ToLower(strings.TrimSpace(c.Pipeline.DefaultLanguage))
	if c.Pipeline.DefaultLanguage == "" {
		c.Pipeline.DefaultLanguage = "auto"
	}
	formats := make([]string, 0, len(c.Pipeline.DefaultOutputFormats))
	seen := make(map[string]struct{}, len(c.Pipeline.DefaultOutputFormats))
	for _, format := range c.Pipeline.DefaultOutputFormats {
		normalized := strings.ToLower(strings.TrimSpace(format))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		formats = append(formats, normalized)
	}
	if len(formats) == 0 {
		formats = []string{"json", "srt"}
	}
	c.Pipeline.DefaultOutputFormats = formats
	if c.Pipeline.ProgressPersistPercent <= 0 {
		c.Pipeline.ProgressPersistPercent = 5
	}
}

func (c *Config) normalizeGateway() {
	if c.Gateway.PingIntervalSeconds <= 0 {
		c.Gateway.PingIntervalSeconds = defaultPingInterval
	}
	if c.Gateway.WriteTimeoutSeconds <= 0 {
		c.Gateway.WriteTimeoutSeconds = defaultWriteTimeout
	}
	if c.Gateway.SubscriberBuffer <= 0 {
		c.Gateway.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Gateway.EventHistory <= 0 {
		c.Gateway.EventHistory = defaultEventHistory
	}
	origins := c.Gateway.AllowedOrigins[:0]
	for _, origin := range c.Gateway.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Gateway.AllowedOrigins = origins
}

func (c *Config) normalizeReconnect() {
	if c.Reconnect.BaseMillis <= 0 {
		c.Reconnect.BaseMillis = defaultReconnectBaseMillis
	}
	if c.Reconnect.Multiplier <= 0 {
		c.Reconnect.Multiplier = defaultReconnectMultiplier
	}
	if c.Reconnect.MaxMillis <= 0 {
		c.Reconnect.MaxMillis = defaultReconnectMaxMillis
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("MEDIAQUEUE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
