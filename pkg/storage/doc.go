// Package storage persists scored request records, finalized sessions, and
// alerts, and serves the filtered queries the gateway exposes.
//
// Two backends exist: an in-memory store for tests and a SQLite store for
// production, sharing one schema defined in sqlite_schema.go. A cron-driven
// retention pruner deletes records past the configured retention period.
package storage
