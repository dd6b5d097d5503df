package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(4194304)
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute

	// Rules defaults
	DefaultRulesFilePath         = "./rules.yaml"
	DefaultRulesWatch            = true
	DefaultRulesRefreshInterval  = 10 * time.Second
	DefaultRulesDebounceInterval = 100 * time.Millisecond

	// Detection defaults
	DefaultFlagThreshold = 70
	DefaultRuleTimeout   = 5 * time.Millisecond
	DefaultMaxRules      = 500

	// Sessions defaults
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultSweepSchedule      = "@every 1m"
	DefaultSessionLanes       = 16
	DefaultSessionLaneBuffer  = 64
	DefaultBurstWindow        = time.Minute
	DefaultBurstThreshold     = 30
	DefaultMaxDistinctModels  = 5
	DefaultRiskLevelWindow    = 0

	// Alerting defaults
	DefaultAlertCooldown        = 15 * time.Minute
	DefaultAlertMaxWindow       = time.Hour
	DefaultAlertCleanupInterval = 5 * time.Minute

	// Storage defaults
	DefaultStorageBackend    = "sqlite"
	DefaultSQLitePath        = "data/flagwise.db"
	DefaultMaxOpenConns      = 10
	DefaultMaxIdleConns      = 5
	DefaultWALMode           = true
	DefaultBusyTimeout       = 5 * time.Second
	DefaultRequestRetention  = 90
	DefaultSessionRetention  = 90
	DefaultAlertRetention    = 30
	DefaultRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultLoggingRedactPII = true
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "flagwise"
	DefaultMetricsSubsystem = "monitor"
)

// DefaultConfig returns a configuration populated with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in default values for any zero-valued fields in the
// configuration. Explicitly configured values are never overwritten, with
// the caveat that a field explicitly set to its type's zero value is
// indistinguishable from an unset field.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyRulesDefaults(&cfg.Rules)
	applyDetectionDefaults(&cfg.Detection)
	applySessionsDefaults(&cfg.Sessions)
	applyAlertingDefaults(&cfg.Alerting)
	applyStorageDefaults(&cfg.Storage)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.ReloadInterval == 0 {
		cfg.TLS.ReloadInterval = DefaultTLSReload
	}
}

func applyRulesDefaults(cfg *RulesConfig) {
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultRulesFilePath
	}
	if !cfg.Watch {
		cfg.Watch = DefaultRulesWatch
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRulesRefreshInterval
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = DefaultRulesDebounceInterval
	}
}

func applyDetectionDefaults(cfg *DetectionConfig) {
	if cfg.FlagThreshold == 0 {
		cfg.FlagThreshold = DefaultFlagThreshold
	}
	if cfg.RuleTimeout == 0 {
		cfg.RuleTimeout = DefaultRuleTimeout
	}
	if cfg.MaxRules == 0 {
		cfg.MaxRules = DefaultMaxRules
	}
}

func applySessionsDefaults(cfg *SessionsConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultSessionIdleTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Lanes == 0 {
		cfg.Lanes = DefaultSessionLanes
	}
	if cfg.LaneBuffer == 0 {
		cfg.LaneBuffer = DefaultSessionLaneBuffer
	}
	if cfg.BurstWindow == 0 {
		cfg.BurstWindow = DefaultBurstWindow
	}
	if cfg.BurstThreshold == 0 {
		cfg.BurstThreshold = DefaultBurstThreshold
	}
	if cfg.MaxDistinctModels == 0 {
		cfg.MaxDistinctModels = DefaultMaxDistinctModels
	}
}

func applyAlertingDefaults(cfg *AlertingConfig) {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultAlertCooldown
	}
	if cfg.MaxWindow == 0 {
		cfg.MaxWindow = DefaultAlertMaxWindow
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultAlertCleanupInterval
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.MaxOpenConns == 0 {
		cfg.SQLite.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.SQLite.MaxIdleConns == 0 {
		cfg.SQLite.MaxIdleConns = DefaultMaxIdleConns
	}
	if !cfg.SQLite.WALMode {
		cfg.SQLite.WALMode = DefaultWALMode
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Retention.RequestDays == 0 {
		cfg.Retention.RequestDays = DefaultRequestRetention
	}
	if cfg.Retention.SessionDays == 0 {
		cfg.Retention.SessionDays = DefaultSessionRetention
	}
	if cfg.Retention.AlertDays == 0 {
		cfg.Retention.AlertDays = DefaultAlertRetention
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if !cfg.Logging.RedactPII {
		cfg.Logging.RedactPII = DefaultLoggingRedactPII
	}
	if !cfg.Metrics.Enabled {
		cfg.Metrics.Enabled = DefaultMetricsEnabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Metrics.EvaluationDurationBuckets) == 0 {
		cfg.Metrics.EvaluationDurationBuckets = []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05}
	}
	if len(cfg.Metrics.RiskScoreBuckets) == 0 {
		cfg.Metrics.RiskScoreBuckets = []float64{10, 25, 40, 55, 70, 85, 100}
	}
}
