package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention FLAGWISE_SECTION_FIELD (e.g., FLAGWISE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format FLAGWISE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("FLAGWISE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("FLAGWISE_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.IdleTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_MAX_BODY_BYTES"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = i
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_TLS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Server.TLS.Enabled = b
		}
	}
	if val := os.Getenv("FLAGWISE_SERVER_TLS_CERT_FILE"); val != "" {
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("FLAGWISE_SERVER_TLS_KEY_FILE"); val != "" {
		cfg.Server.TLS.KeyFile = val
	}

	// Rules overrides
	if val := os.Getenv("FLAGWISE_RULES_FILE_PATH"); val != "" {
		cfg.Rules.FilePath = val
	}
	if val := os.Getenv("FLAGWISE_RULES_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Rules.Watch = b
		}
	}
	if val := os.Getenv("FLAGWISE_RULES_REFRESH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Rules.RefreshInterval = d
		}
	}

	// Detection overrides
	if val := os.Getenv("FLAGWISE_DETECTION_FLAG_THRESHOLD"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Detection.FlagThreshold = i
		}
	}
	if val := os.Getenv("FLAGWISE_DETECTION_RULE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Detection.RuleTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_DETECTION_MAX_RULES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Detection.MaxRules = i
		}
	}

	// Sessions overrides
	if val := os.Getenv("FLAGWISE_SESSIONS_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Sessions.IdleTimeout = d
		}
	}
	if val := os.Getenv("FLAGWISE_SESSIONS_SWEEP_SCHEDULE"); val != "" {
		cfg.Sessions.SweepSchedule = val
	}
	if val := os.Getenv("FLAGWISE_SESSIONS_LANES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Sessions.Lanes = i
		}
	}
	if val := os.Getenv("FLAGWISE_SESSIONS_BURST_THRESHOLD"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Sessions.BurstThreshold = i
		}
	}
	if val := os.Getenv("FLAGWISE_SESSIONS_MAX_DISTINCT_MODELS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Sessions.MaxDistinctModels = i
		}
	}

	// Alerting overrides
	if val := os.Getenv("FLAGWISE_ALERTING_COOLDOWN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Alerting.Cooldown = d
		}
	}
	if val := os.Getenv("FLAGWISE_ALERTING_MAX_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Alerting.MaxWindow = d
		}
	}

	// Storage overrides
	if val := os.Getenv("FLAGWISE_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("FLAGWISE_STORAGE_SQLITE_PATH"); val != "" {
		cfg.Storage.SQLite.Path = val
	}
	if val := os.Getenv("FLAGWISE_STORAGE_RETENTION_REQUEST_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Storage.Retention.RequestDays = i
		}
	}
	if val := os.Getenv("FLAGWISE_STORAGE_RETENTION_SCHEDULE"); val != "" {
		cfg.Storage.Retention.Schedule = val
	}

	// Telemetry overrides
	if val := os.Getenv("FLAGWISE_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("FLAGWISE_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("FLAGWISE_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("FLAGWISE_TELEMETRY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}
}
