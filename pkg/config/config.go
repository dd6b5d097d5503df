package config

import "time"

// Config is the root configuration structure for FlagWise.
// It contains all configuration sections for the monitoring server, the
// detection rule engine, session aggregation, alerting, storage, and
// telemetry settings.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and connection limits.
	Server ServerConfig `yaml:"server"`

	// Rules contains configuration for rule loading including the rules
	// file location, refresh interval, and watch mode.
	Rules RulesConfig `yaml:"rules"`

	// Detection contains configuration for the detection rule engine
	// including the flag threshold and per-rule evaluation timeout.
	Detection DetectionConfig `yaml:"detection"`

	// Sessions contains configuration for the session aggregator including
	// the inactivity window and anomaly thresholds.
	Sessions SessionsConfig `yaml:"sessions"`

	// Alerting contains configuration for the alert rule engine including
	// the dedup cooldown.
	Alerting AlertingConfig `yaml:"alerting"`

	// Storage contains configuration for persistence including backend
	// selection and retention settings.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains configuration for observability including logging
	// and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. A zero or negative value means no timeout.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. A zero or negative value means no timeout.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled. If IdleTimeout is zero, ReadTimeout is used.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// If requests are still in-flight after this timeout, the server will
	// force shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of monitored request bodies.
	// Default: 4194304 (4MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS contains TLS termination settings.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the HTTP server. Certificates are
// re-read from disk on an interval so renewals take effect without a
// restart.
type TLSConfig struct {
	// Enabled turns on TLS for the listener.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept ("1.2" or "1.3").
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Zero disables reloading.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// RulesConfig contains configuration for rule loading.
type RulesConfig struct {
	// FilePath is the path to the YAML file holding detection and alert
	// rules.
	// Default: "./rules.yaml"
	FilePath string `yaml:"file_path"`

	// Watch enables fsnotify-based reload when the rules file changes.
	// Default: true
	Watch bool `yaml:"watch"`

	// RefreshInterval is how often rules are re-read from the source even
	// without a file event. Zero disables periodic refresh.
	// Default: 10s
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// DebounceInterval coalesces rapid file events into one reload.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// DetectionConfig contains configuration for the detection rule engine.
type DetectionConfig struct {
	// FlagThreshold is the risk score at or above which a request is
	// flagged. Range 0-100.
	// Default: 70
	FlagThreshold int `yaml:"flag_threshold"`

	// ChatbotThresholds overrides FlagThreshold per chatbot ID.
	ChatbotThresholds map[string]int `yaml:"chatbot_thresholds"`

	// RuleTimeout bounds the evaluation of a single rule against one
	// request. Rules that exceed it count as non-matches.
	// Default: 5ms
	RuleTimeout time.Duration `yaml:"rule_timeout"`

	// MaxRules caps the number of active detection rules.
	// Default: 500
	MaxRules int `yaml:"max_rules"`
}

// SessionsConfig contains configuration for the session aggregator.
type SessionsConfig struct {
	// IdleTimeout is the inactivity window after which a session is
	// finalized.
	// Default: 30m
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepSchedule is a cron expression controlling how often idle
	// sessions are swept and finalized.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`

	// Lanes is the number of actor-sharded worker goroutines.
	// Default: 16
	Lanes int `yaml:"lanes"`

	// LaneBuffer is the per-lane channel buffer size.
	// Default: 64
	LaneBuffer int `yaml:"lane_buffer"`

	// BurstWindow and BurstThreshold control burst traffic detection: more
	// than BurstThreshold events inside BurstWindow tags the session.
	// Defaults: 1m, 30
	BurstWindow    time.Duration `yaml:"burst_window"`
	BurstThreshold int           `yaml:"burst_threshold"`

	// MaxDistinctModels is the model hopping threshold. A session touching
	// more distinct models than this is tagged.
	// Default: 5
	MaxDistinctModels int `yaml:"max_distinct_models"`

	// RiskLevelWindow limits risk level derivation to the most recent N
	// events. Zero considers all events.
	// Default: 0
	RiskLevelWindow int `yaml:"risk_level_window"`
}

// AlertingConfig contains configuration for the alert rule engine.
type AlertingConfig struct {
	// Cooldown suppresses duplicate alerts for the same (rule, actor) pair.
	// Default: 15m
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxWindow caps the evaluation window of threshold rules.
	// Default: 1h
	MaxWindow time.Duration `yaml:"max_window"`

	// CleanupInterval is how often expired dedup and history entries are
	// pruned.
	// Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig contains configuration for persistence.
type StorageConfig struct {
	// Backend selects the storage implementation.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains configuration for the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention contains retention pruning configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/flagwise.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains retention pruning configuration.
type RetentionConfig struct {
	// RequestDays is the number of days to retain request records.
	// 0 keeps them forever.
	// Default: 90
	RequestDays int `yaml:"request_days"`

	// SessionDays is the number of days to retain sessions.
	// Default: 90
	SessionDays int `yaml:"session_days"`

	// AlertDays is the number of days to retain resolved alerts.
	// Default: 30
	AlertDays int `yaml:"alert_days"`

	// Schedule is a cron expression for scheduled pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic PII redaction in logs.
	// Redacts API keys, emails, SSN, IP addresses, etc.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "flagwise"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "monitor"
	Subsystem string `yaml:"subsystem"`

	// EvaluationDurationBuckets defines histogram buckets for rule
	// evaluation duration (seconds).
	// Default: [0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05]
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`

	// RiskScoreBuckets defines histogram buckets for risk scores.
	// Default: [10, 25, 40, 55, 70, 85, 100]
	RiskScoreBuckets []float64 `yaml:"risk_score_buckets"`
}
