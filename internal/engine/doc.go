// Package engine implements the automation engine.
//
// The engine is the heart of the system: it restores persisted schedules,
// feeds events to the trigger processor, and drives every triggered
// schedule through delay, preparation, readiness checks and execution
// using injected Preparer and Executor collaborators.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Every lifecycle mutation runs as a task on one goroutine draining a FIFO
// queue. This ensures:
//   - Events are evaluated in arrival order
//   - At most one transition per schedule is in flight
//   - Restore completes before any event is processed
//
// Schedule Pipelines:
// Each trigger firing starts a pipeline goroutine. Pipelines block on
// delays, preparation and readiness waits, and submit their state writes
// to the loop. Before each write they re-read the stored record and abort
// silently if it was deleted or moved on (optimistic, not lock-based).
//
// State machine:
//
//	IDLE → TRIGGERED → PREPARED → EXECUTING → IDLE | PAUSED | deleted
//
// PAUSED is the interval cooldown between fulfillments; a timer returns
// the schedule to IDLE.
//
// Execution:
// Executor.Execute runs for one schedule at a time per engine. The
// EXECUTING state write happens concurrently with the call, and the
// engine waits for both before acting on the verdict.
package engine
