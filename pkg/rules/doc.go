// Package rules defines the detection and alert rule configuration model
// consumed by the scoring pipeline.
//
// Rules are authored externally (store, file) and consumed by the engines as
// an immutable, priority-ordered Snapshot. Pattern strings are compiled once
// at snapshot build time into typed expressions so that evaluation never
// re-parses configuration. The Loader refreshes snapshots periodically or on
// file change and publishes them with an atomic pointer swap, so readers
// always observe a complete rule set.
package rules
