// Package store provides the durable medium behind the project state.
//
// # Model
//
// A DocumentStore holds whole JSON documents addressed by key. There are no
// secondary indexes, no partial updates and no multi-writer isolation: the
// projectstate actor serializes every write and always saves the complete
// document.
//
// # Drivers
//
// Open selects an implementation from Options.Driver:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, cgo
//   - "natskv": a NATS JetStream key-value bucket
//
// Both SQLite drivers share SQLiteStore and a single documents table in WAL
// mode. Parent directories of the database file are created on open.
//
// # Errors
//
//   - ErrNotFound: no document under the key
//   - ErrUnknownDriver: Open was given an unsupported driver name
//
// # Testing
//
// Use NewMockStore() for unit tests. It can seed raw bodies and inject load
// or save failures:
//
//	docs := store.NewMockStore()
//	docs.FailSaves(store.ErrUnavailable)
//
// Use NewSQLiteStore(":memory:") for tests against real SQLite.
package store
