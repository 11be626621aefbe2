// Package harness runs automation scenarios end to end.
//
// A scenario declares schedules, a sequence of steps (events, clock
// advances, pause flags, API calls, restarts) and scripted verdicts for the
// preparer and executor. The harness runs it against a real engine backed
// by a SQLite store and a fake clock, records every lifecycle change, and
// evaluates assertions on the outcome.
//
// # Scenario Format
//
//	name: welcome-once
//	description: "A foreground goal of 2 fires once and the limit deletes it"
//	start: "2024-03-04T09:30:00Z"
//	schedules:
//	  - id: welcome
//	    limit: 1
//	    triggers: [{id: fg, type: foreground, goal: 2}]
//	    type: actions
//	    actions: {add_tags: [welcomed]}
//	script:
//	  welcome:
//	    ready: [not_ready, ready]
//	steps:
//	  - event: {kind: foreground}
//	  - event: {kind: foreground}
//	  - notify: true
//	assertions:
//	  - type: state
//	    schedule: welcome
//	    state: deleted
//	  - type: executions
//	    schedule: welcome
//	    count: 1
//
// Schedules use the same document format as the compiler package and are
// validated against its schema.
//
// # Steps
//
//   - event: feeds one event (kind, data, value, screen, region_id,
//     app_session_id, version_updated)
//   - advance: moves the fake clock by a Go duration ("30s", "24h")
//   - notify: signals that readiness conditions changed
//   - pause_engine / pause_execution: sets a pause flag
//   - upsert: stores more schedules or replaces existing definitions
//   - cancel / cancel_group / stop: schedule API calls
//   - restart: stops the engine and restores a new one from the store
//
// After every step the harness waits until the engine is quiescent: no
// task is queued and every pipeline is parked on time or conditions.
//
// # Assertion Types
//
//   - state: the stored state of a schedule, or "deleted"; optionally its
//     execution count
//   - executions: how often the executor ran a schedule
//   - history: every state a schedule entered, in order
//
// # Deterministic Testing
//
// The fake clock starts at the scenario's start time and only moves on
// advance steps. Trigger session ids come from a sequence generator. The
// recorded trace groups changes by step and by schedule, so it is stable
// across runs and suitable for golden file comparison.
package harness
