// Package alerting evaluates scored events and session updates against
// configured alert rules and produces deduplicated alerts.
//
// Two rule shapes exist: detection_rule rules fire when an event matched one
// of the configured detection rules, and threshold rules fire when a
// sliding-window metric crosses a bound. A (alert rule, actor) pairing will
// not re-fire while an earlier alert for the pairing is still new or
// acknowledged within the cool-down window, which keeps a single noisy actor
// from producing an alert storm.
package alerting
