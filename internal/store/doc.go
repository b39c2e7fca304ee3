// Package store keeps the coordination fact log.
//
// Three append-only tables record what happened:
//
//   - agent_facts: registrations, updates, unregistrations and shutdown deactivations
//   - executions: one row per dispatch (after retries), with attempts and duration
//   - coordinations: one row per multi-agent run with its summary counts
//
// The log is history only. Nothing is read back to rebuild registry state.
//
// # Drivers
//
// NewSQLiteStore accepts either database/sql driver name:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// Both run with PRAGMA journal_mode=WAL. ":memory:" opens a private
// in-memory database on a single connection.
//
// # Testing
//
// NewMockStore returns an in-memory FactStore with the same ordering rules.
package store
