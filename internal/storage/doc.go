// Package storage persists task run history.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": append-only JSON Lines, no database needed
package storage
