// Package session aggregates scored events into per-actor behavioral
// sessions.
//
// Events are routed onto a fixed set of lanes by a hash of the actor key;
// each lane is a single goroutine owning the sessions of its actors, so
// same-actor mutations are serialized by construction while cross-actor
// ingest proceeds in parallel. A cron-driven sweep finalizes sessions whose
// inactivity window has elapsed; the sweep runs through the owning lane and
// therefore cannot race an in-flight ingest.
package session
