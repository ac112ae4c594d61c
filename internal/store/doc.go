// Package store provides persistent storage for the gateway using SQLite.
//
// A single SQLiteStore struct implements the Store interface, with methods
// grouped by concern across files:
//
//   - oauth.go: clients, authorization codes, refresh tokens
//   - resources.go: the searchable resource catalog
//   - connectors.go: sealed connector configs and encrypted content objects
//   - charges.go: spending caps, charges, ledger entries, receipts
//
// # Consistency notes
//
// Authorization-code consumption is a single conditional UPDATE guarded on
// the consumed flag, so exactly one concurrent exchange succeeds. Settlement
// (charge + ledger entries + receipt) is written in one transaction. Cap
// evaluation reads happen outside any transaction; see internal/caps for the
// implications.
//
// # SQLite configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 strings in UTC. Use NewSQLiteStore with a
// temp-dir path (or ":memory:") for tests.
package store
