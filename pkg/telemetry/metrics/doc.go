// Package metrics provides Prometheus metrics for the FlagWise scoring
// pipeline.
//
// The Collector owns a registry and groups metrics per subsystem: detection
// engine evaluations, session aggregation, alerting, and storage. Components
// receive their bundle at construction; a nil bundle disables recording.
package metrics
