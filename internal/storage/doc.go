// Package storage persists the reminder audit trail: one row per job
// registration, firing and delivery outcome.
//
// Drivers:
//   - "file": JSON Lines file, no external dependencies
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL via github.com/lib/pq
//
// Jobs themselves are never persisted; a restart starts with an empty schedule.
package storage
