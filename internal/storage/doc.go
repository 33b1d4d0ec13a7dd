// Package storage persists groups, members, compliance records, escalation
// markers, fines, notifier dedup state and the operator audit trail.
//
// Backends:
//   - memory: process-local maps, used by tests and throwaway runs
//   - file: memory state plus a JSONL journal compacted into a snapshot
//   - sqlite: modernc.org/sqlite, single writer, WAL
//   - postgres: pgx through database/sql
//
// Compliance records, escalation markers and fines are keyed by their
// natural keys and written with upsert or insert-if-absent semantics.
package storage
