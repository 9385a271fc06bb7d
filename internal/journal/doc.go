// Package journal provides SQLite-backed durable storage for dispatch
// sessions.
//
// The journal is an append-only log with:
//   - Sessions: one row per dispatcher, with its context
//   - Actions: one row per completed action, keyed by content-addressed ID
//   - Store outcomes: which stores handled an action, in order, and how
//
// Store state is never journaled. A session is rebuilt by re-dispatching
// its actions in seq order against fresh stores.
//
// # Ordering
//
// All queries order by seq (the dispatcher's logical clock) and then by
// id COLLATE BINARY, so reads are identical across replays regardless of
// wall time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
