// FlagWise is a security monitoring engine for LLM chatbot traffic.
//
// It scores prompt/response pairs against configurable detection rules,
// aggregates scored traffic into per-actor sessions, and raises alerts
// on threshold breaches and rule matches:
//   - Ordered detection rules (keyword, regex, model restriction, custom scoring)
//   - Per-actor session aggregation with anomaly tagging
//   - Threshold and detection-rule alerting with cool-down dedup
//   - SQLite persistence with retention pruning and CSV/JSON export
//
// Usage:
//
//	# Start the monitoring server with default configuration
//	flagwise run
//
//	# Start with a custom configuration file
//	flagwise run --config /path/to/config.yaml
//
//	# Validate configuration and rules without starting
//	flagwise validate
//
//	# Export stored request records
//	flagwise export --format csv --output requests.csv
//
//	# Show version information
//	flagwise version
package main

func main() {
	Execute()
}
