// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Session: One streaming interaction from connection to completion signal
//   - TranscriptEvent: Ordered event log of a session (prompt, text deltas,
//     tool calls, audio references, terminal done/error markers)
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateSession: Session already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests with real SQLite.
package store
