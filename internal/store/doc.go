// Package store provides SQLite-backed durable storage for automation
// schedules and their trigger counting state.
//
// Two tables back the engine's ScheduleStore and TriggerStore:
//   - schedules: one row per schedule, holding the definition document,
//     lifecycle state, state change time, execution count and the optional
//     trigger-info and prepared-info documents
//   - triggers: one row per (schedule_id, trigger_id) holding the counting
//     document (count, children, last triggerable state)
//
// # Atomicity
//
// UpdateSchedule and UpsertSchedules run their read-modify-write in a single
// transaction. The pool is limited to one connection, so transforms on the
// same id never interleave.
//
// # Deterministic Ordering
//
// Listing queries order by priority ASC, created ASC, identifier ASC
// COLLATE BINARY so restore sees schedules in the same order every start.
//
// # Corrupt Rows
//
// A row whose documents fail to decode is logged and treated as absent.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
