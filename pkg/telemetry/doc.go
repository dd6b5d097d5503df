// Package telemetry groups the observability subsystems of FlagWise.
//
// Subpackages:
//
//   - logging: structured logging built on log/slog with PII redaction
//   - metrics: Prometheus metrics for the scoring pipeline
package telemetry
