// Package storage persists reminder records.
//
// It is the single source of truth for reminder status: every status
// transition goes through Transition(), which is a compare-and-swap on the
// current status. The dispatcher and the interactive service both rely on
// that to resolve races without external locking.
//
// Drivers:
//   - "sqlite": durable SQLite file (modernc.org/sqlite, WAL)
//   - "memory": in-process map, for tests and throwaway runs
package storage
