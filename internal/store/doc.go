// Package store provides SQLite-backed durable storage for automata,
// blueprints, their event logs, and snapshots.
//
// The store implements:
//   - Blueprints: immutable, content-addressed templates (insert-if-absent)
//   - Automata: the current-state projection, one metadata row per automata
//   - Events: append-only log keyed by (automata_id, base_version)
//   - Snapshots: redundant projections at interval versions (insert-if-absent)
//
// # Critical Patterns
//
// Atomic Append:
//   - AppendEvent inserts the event row AND advances the automata row in
//     one transaction, both conditioned on the expected version
//   - Either both writes land or neither does; the log stays gap-free
//
// Conditional Writes, Not Locks:
//   - The only serialization point per automata is the conditional UPDATE
//     (WHERE version = ?) plus the events primary key
//   - No in-process mutex, so several processes may share one database
//
// Idempotent Inserts:
//   - Blueprints and snapshots use ON CONFLICT DO NOTHING; a duplicate is a
//     no-op reported through the inserted flag, never an error
//
// Deterministic Ordering:
//   - Event and snapshot queries ORDER BY version COLLATE BINARY; the
//     version encoding makes byte order numeric order
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cascading deletes through the log
//   - _txlock=immediate: Writers take the lock at BEGIN, not on first write
//
// State and event payloads are stored as RFC 8785 canonical JSON.
package store
