package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
	if cfg.Detection.FlagThreshold != DefaultFlagThreshold {
		t.Errorf("FlagThreshold = %d, want %d", cfg.Detection.FlagThreshold, DefaultFlagThreshold)
	}
	if cfg.Sessions.IdleTimeout != DefaultSessionIdleTimeout {
		t.Errorf("IdleTimeout = %v, want %v", cfg.Sessions.IdleTimeout, DefaultSessionIdleTimeout)
	}
	if cfg.Alerting.Cooldown != DefaultAlertCooldown {
		t.Errorf("Cooldown = %v, want %v", cfg.Alerting.Cooldown, DefaultAlertCooldown)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Telemetry.Logging.Format != "json" {
		t.Errorf("Logging format = %q, want json", cfg.Telemetry.Logging.Format)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("Metrics should be enabled by default")
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: 10s
detection:
  flag_threshold: 60
  chatbot_thresholds:
    support-bot: 40
sessions:
  idle_timeout: 15m
storage:
  backend: memory
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Detection.FlagThreshold != 60 {
		t.Errorf("FlagThreshold = %d, want 60", cfg.Detection.FlagThreshold)
	}
	if cfg.Detection.ChatbotThresholds["support-bot"] != 40 {
		t.Errorf("ChatbotThresholds = %v", cfg.Detection.ChatbotThresholds)
	}
	if cfg.Sessions.IdleTimeout != 15*time.Minute {
		t.Errorf("IdleTimeout = %v, want 15m", cfg.Sessions.IdleTimeout)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Storage.Backend)
	}

	// Unset fields get defaults.
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want default %v", cfg.Server.WriteTimeout, DefaultWriteTimeout)
	}
	if cfg.Rules.FilePath != DefaultRulesFilePath {
		t.Errorf("Rules file path = %q, want default", cfg.Rules.FilePath)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadConfig() on missing file should fail")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() on invalid YAML should fail")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ListenAddress = "no-port"
	cfg.Detection.FlagThreshold = 150
	cfg.Storage.Backend = "postgres"
	cfg.Telemetry.Logging.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should fail")
	}

	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Error should be a ValidationError, got %T", err)
	}
	if len(validationErr.Errors) != 4 {
		t.Errorf("Got %d field errors, want 4: %v", len(validationErr.Errors), validationErr.Errors)
	}

	fields := make(map[string]bool)
	for _, fe := range validationErr.Errors {
		fields[fe.Field] = true
	}
	for _, want := range []string{
		"server.listen_address",
		"detection.flag_threshold",
		"storage.backend",
		"telemetry.logging.level",
	} {
		if !fields[want] {
			t.Errorf("Missing field error for %s", want)
		}
	}
}

func TestValidate_CronSchedules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.SweepSchedule = "every minute"
	cfg.Storage.Retention.Schedule = "61 * * * *"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should reject bad cron expressions")
	}
	if !strings.Contains(err.Error(), "sessions.sweep_schedule") {
		t.Errorf("Error should name sessions.sweep_schedule: %v", err)
	}
	if !strings.Contains(err.Error(), "storage.retention.schedule") {
		t.Errorf("Error should name storage.retention.schedule: %v", err)
	}
}

func TestValidate_TLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.MinVersion = "1.1"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should reject TLS without certificate paths")
	}
	if !strings.Contains(err.Error(), "server.tls.cert_file") {
		t.Errorf("Error should name server.tls.cert_file: %v", err)
	}
	if !strings.Contains(err.Error(), "server.tls.key_file") {
		t.Errorf("Error should name server.tls.key_file: %v", err)
	}
	if !strings.Contains(err.Error(), "server.tls.min_version") {
		t.Errorf("Error should name server.tls.min_version: %v", err)
	}

	cfg.Server.TLS.CertFile = "/etc/flagwise/cert.pem"
	cfg.Server.TLS.KeyFile = "/etc/flagwise/key.pem"
	cfg.Server.TLS.MinVersion = "1.2"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() with complete TLS config failed: %v", err)
	}
}

func TestValidate_ChatbotThresholdRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.ChatbotThresholds = map[string]int{"bot-a": 101}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should reject out-of-range chatbot threshold")
	}
	if !strings.Contains(err.Error(), "detection.chatbot_thresholds.bot-a") {
		t.Errorf("Error should name the chatbot: %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen_address: "127.0.0.1:8080"
detection:
  flag_threshold: 70
`)

	t.Setenv("FLAGWISE_SERVER_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("FLAGWISE_DETECTION_FLAG_THRESHOLD", "55")
	t.Setenv("FLAGWISE_STORAGE_BACKEND", "memory")
	t.Setenv("FLAGWISE_ALERTING_COOLDOWN", "5m")
	t.Setenv("FLAGWISE_TELEMETRY_METRICS_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("ListenAddress = %q, env override lost", cfg.Server.ListenAddress)
	}
	if cfg.Detection.FlagThreshold != 55 {
		t.Errorf("FlagThreshold = %d, want 55", cfg.Detection.FlagThreshold)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Alerting.Cooldown != 5*time.Minute {
		t.Errorf("Cooldown = %v, want 5m", cfg.Alerting.Cooldown)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Metrics should be disabled by env override")
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfigFile(t, "")
	t.Setenv("FLAGWISE_STORAGE_BACKEND", "cassandra")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("Invalid env override should fail validation")
	}
}

func TestFieldError_Error(t *testing.T) {
	fe := FieldError{Field: "server.listen_address", Message: "is required"}
	if got := fe.Error(); got != "server.listen_address: is required" {
		t.Errorf("Error() = %q", got)
	}
}
