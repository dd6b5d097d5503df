// Package logging provides structured logging for FlagWise built on
// log/slog.
//
// Loggers are created from the telemetry.logging configuration section and
// support JSON and text output. When PII redaction is enabled, log argument
// values matching built-in or custom patterns (API keys, emails, SSNs, IP
// addresses) are scrubbed before the entry is written. Monitored prompts
// routinely contain exactly this kind of data, so redaction defaults to on.
//
// Install makes the configured logger the slog default so components that
// log through slog.Default() share the same handler.
package logging
