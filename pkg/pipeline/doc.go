// Package pipeline wires the scoring stages together.
//
// A Monitor takes one prompt/response pair through the full path: detection
// rule evaluation, asynchronous persistence of the scored request record,
// session aggregation for the actor, and alert rule evaluation against the
// updated session. Created alerts are persisted synchronously and handed to
// an optional Notifier.
//
// For any one actor the stages always observe effects in that order; the
// aggregator confirms each ingest before alert evaluation starts.
package pipeline
