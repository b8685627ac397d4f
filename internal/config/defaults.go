package config

const (
	defaultDataDir              = "~/.local/share/mediaqueue"
	defaultLogDir               = "~/.local/share/mediaqueue/logs"
	defaultWorkDir              = "~/.local/share/mediaqueue/work"
	defaultAPIBind              = "127.0.0.1:7590"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultSlots                = 2
	defaultPriority             = 5
	minPriority                 = 1
	maxPriority                 = 10
	defaultStorageBackend       = BackendSQLite
	defaultPingInterval         = 30
	defaultWriteTimeout         = 5
	defaultSubscriberBuffer     = 64
	defaultEventHistory         = 512
	defaultReconnectBaseMillis  = 1000
	defaultReconnectMultiplier  = 2.0
	defaultReconnectMaxMillis   = 30000
	defaultReconnectMaxAttempts = 10
	defaultMinFreeDiskMiB       = 512
	defaultCommandGraceSeconds  = 5
)

// Stage names in pipeline order.
const (
	StageExtract    = "extract"
	StageTranscribe = "transcribe"
	StageDiarize    = "diarize"
	StageSynthesize = "synthesize"
	StageSync       = "sync"
)

// Storage backend identifiers.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// StageOrder lists every known stage in execution order.
var StageOrder = []string{StageExtract, StageTranscribe, StageDiarize, StageSynthesize, StageSync}

func defaultWeights() map[string]float64 {
	return map[string]float64{
		StageExtract:    5,
		StageTranscribe: 55,
		StageDiarize:    15,
		StageSynthesize: 15,
		StageSync:       10,
	}
}

func defaultSimulatedSeconds() map[string]float64 {
	return map[string]float64{
		StageExtract:    1,
		StageTranscribe: 6,
		StageDiarize:    2,
		StageSynthesize: 2,
		StageSync:       1,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			WorkDir: defaultWorkDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
		},
		Scheduler: Scheduler{
			Slots:           defaultSlots,
			DefaultPriority: defaultPriority,
		},
		Pipeline: Pipeline{
			Weights:                defaultWeights(),
			SimulatedSeconds:       defaultSimulatedSeconds(),
			CommandGraceSeconds:    defaultCommandGraceSeconds,
			DefaultLanguage:        "auto",
			DefaultOutputFormats:   []string{"json", "srt"},
			DefaultSyncTiming:      true,
			ProgressPersistPercent: 5,
		},
		Gateway: Gateway{
			PingIntervalSeconds: defaultPingInterval,
			WriteTimeoutSeconds: defaultWriteTimeout,
			SubscriberBuffer:    defaultSubscriberBuffer,
			EventHistory:        defaultEventHistory,
		},
		Reconnect: Reconnect{
			BaseMillis:  defaultReconnectBaseMillis,
			Multiplier:  defaultReconnectMultiplier,
			MaxMillis:   defaultReconnectMaxMillis,
			MaxAttempts: defaultReconnectMaxAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobFailures:    true,
			QueueDrained:   true,
			Batches:        true,
		},
		Workflow: Workflow{
			ErrorRetryInterval: 10,
			MinFreeDiskMiB:     defaultMinFreeDiskMiB,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
