// Package detect implements the detection rule engine that scores one
// prompt/response pair against an ordered rule snapshot.
//
// Evaluation is purely functional over the pair and the snapshot: given the
// same inputs the result is identical, no shared mutable state participates,
// and the engine is safe to invoke concurrently for unrelated events. Rules
// are evaluated ascending by priority with ties broken by rule ID; a rule
// with stop_on_match terminates the walk and forces the flagged state.
// Malformed or slow rules degrade to per-rule diagnostics, never to a failed
// evaluation.
package detect
