package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateDetection(&cfg.Detection)...)
	errs = append(errs, validateSessions(&cfg.Sessions)...)
	errs = append(errs, validateAlerting(&cfg.Alerting)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid host:port format: %v", err),
		})
	}

	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "must not be negative",
		})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "server.tls.cert_file",
				Message: "certificate file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "server.tls.key_file",
				Message: "key file is required when TLS is enabled",
			})
		}
	}
	switch cfg.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unknown version %q, must be 1.2 or 1.3", cfg.TLS.MinVersion),
		})
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "server.tls.reload_interval",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError

	if cfg.FilePath == "" {
		errs = append(errs, FieldError{
			Field:   "rules.file_path",
			Message: "rules file path is required",
		})
	}
	if cfg.RefreshInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.refresh_interval",
			Message: "must not be negative",
		})
	}
	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.debounce_interval",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateDetection(cfg *DetectionConfig) []FieldError {
	var errs []FieldError

	if cfg.FlagThreshold < 0 || cfg.FlagThreshold > 100 {
		errs = append(errs, FieldError{
			Field:   "detection.flag_threshold",
			Message: fmt.Sprintf("must be between 0 and 100, got %d", cfg.FlagThreshold),
		})
	}
	for chatbotID, threshold := range cfg.ChatbotThresholds {
		if threshold < 0 || threshold > 100 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("detection.chatbot_thresholds.%s", chatbotID),
				Message: fmt.Sprintf("must be between 0 and 100, got %d", threshold),
			})
		}
	}
	if cfg.RuleTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "detection.rule_timeout",
			Message: "must be positive",
		})
	}
	if cfg.MaxRules <= 0 {
		errs = append(errs, FieldError{
			Field:   "detection.max_rules",
			Message: "must be positive",
		})
	}

	return errs
}

func validateSessions(cfg *SessionsConfig) []FieldError {
	var errs []FieldError

	if cfg.IdleTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.idle_timeout",
			Message: "must be positive",
		})
	}
	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "sessions.sweep_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Lanes <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.lanes",
			Message: "must be positive",
		})
	}
	if cfg.LaneBuffer <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.lane_buffer",
			Message: "must be positive",
		})
	}
	if cfg.BurstWindow <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.burst_window",
			Message: "must be positive",
		})
	}
	if cfg.BurstThreshold <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.burst_threshold",
			Message: "must be positive",
		})
	}
	if cfg.MaxDistinctModels <= 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.max_distinct_models",
			Message: "must be positive",
		})
	}
	if cfg.RiskLevelWindow < 0 {
		errs = append(errs, FieldError{
			Field:   "sessions.risk_level_window",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateAlerting(cfg *AlertingConfig) []FieldError {
	var errs []FieldError

	if cfg.Cooldown <= 0 {
		errs = append(errs, FieldError{
			Field:   "alerting.cooldown",
			Message: "must be positive",
		})
	}
	if cfg.MaxWindow <= 0 {
		errs = append(errs, FieldError{
			Field:   "alerting.max_window",
			Message: "must be positive",
		})
	}
	if cfg.CleanupInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "alerting.cleanup_interval",
			Message: "must be positive",
		})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown backend %q, must be one of: sqlite, memory", cfg.Backend),
		})
	}

	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{
			Field:   "storage.sqlite.path",
			Message: "database path is required for the sqlite backend",
		})
	}

	if cfg.Retention.RequestDays < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention.request_days",
			Message: "must not be negative",
		})
	}
	if cfg.Retention.SessionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention.session_days",
			Message: "must not be negative",
		})
	}
	if cfg.Retention.AlertDays < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.retention.alert_days",
			Message: "must not be negative",
		})
	}
	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "storage.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q, must be one of: debug, info, warn, error", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q, must be one of: json, text", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "must start with /",
		})
	}

	return errs
}
