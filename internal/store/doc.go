// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Architecture
//
// The Store interface is the boundary contract for the durable conversation
// and message record. The rest of the gateway only ever calls append, query,
// and bulk status-transition operations on it; it never reaches into SQL.
//
// SQLiteStore is the production implementation. MockStore is an in-memory
// implementation for unit tests.
//
// # Data Models
//
//   - User: internal user record, looked up by identity-provider subject
//   - Conversation: two participants tied to one job application; at most one
//     conversation exists per application id
//   - Message: belongs to one conversation; delivery status moves forward
//     only (sent -> delivered -> read); deletes are soft
//
// # Transactions
//
// Every multi-step mutation (message append plus conversation pointer,
// bulk read/delivered transitions plus last-read bookkeeping) runs inside a
// single transaction. The store never assumes it is the sole writer:
// concurrent requests may race, and bulk updates are scoped by filter so a
// message soft-deleted before the transaction starts is never transitioned.
//
// # Pagination
//
// ListMessages returns history oldest-first. Internally, pages are fetched
// newest-first and reversed. When a Before/After cursor is supplied it takes
// precedence over Offset; the cursor resolves to the anchor message's
// creation timestamp and the comparison is strict, so the anchor is excluded
// and consecutive pages never overlap.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
