package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/automation/internal/trigger"
)

// ScheduleState is the lifecycle state of a schedule.
type ScheduleState string

const (
	StateIdle      ScheduleState = "idle"
	StateTriggered ScheduleState = "triggered"
	StatePrepared  ScheduleState = "prepared"
	StateExecuting ScheduleState = "executing"
	StatePaused    ScheduleState = "paused"
)

// Valid reports whether s is a known state.
func (s ScheduleState) Valid() bool {
	switch s {
	case StateIdle, StateTriggered, StatePrepared, StateExecuting, StatePaused:
		return true
	}
	return false
}

// TriggeringInfo records what fired a schedule.
type TriggeringInfo struct {
	Context   *trigger.Context `json:"context,omitempty"`
	Date      time.Time        `json:"date"`
	SessionID string           `json:"session_id"`
}

// PreparedInfo is the result of preparation kept while PREPARED or
// EXECUTING. Fingerprint identifies the definition that was prepared.
type PreparedInfo struct {
	ScheduleID                    string          `json:"schedule_id"`
	Fingerprint                   string          `json:"fingerprint"`
	TriggerSessionID              string          `json:"trigger_session_id"`
	ExperimentResult              json.RawMessage `json:"experiment_result,omitempty"`
	AdditionalAudienceCheckResult bool            `json:"additional_audience_check_result"`
	Priority                      int             `json:"priority"`
}

// ScheduleData is the persisted lifecycle record of one schedule.
//
// Transitions return a new value and leave the receiver untouched. A
// transition called from a state it does not apply to returns the record
// unchanged, so callers can re-validate by comparing states.
type ScheduleData struct {
	Schedule        Schedule        `json:"schedule"`
	State           ScheduleState   `json:"state"`
	StateChangeDate time.Time       `json:"state_change_date"`
	ExecutionCount  int             `json:"execution_count"`
	TriggerInfo     *TriggeringInfo `json:"trigger_info,omitempty"`
	PreparedInfo    *PreparedInfo   `json:"prepared_info,omitempty"`
}

// NewScheduleData creates an IDLE record.
func NewScheduleData(s Schedule, now time.Time) ScheduleData {
	if s.Created.IsZero() {
		s.Created = now
	}
	return ScheduleData{Schedule: s, State: StateIdle, StateChangeDate: now}
}

func (d ScheduleData) String() string {
	return fmt.Sprintf("%s[%s count=%d]", d.Schedule.Identifier, d.State, d.ExecutionCount)
}

func (d ScheduleData) withState(state ScheduleState, date time.Time) ScheduleData {
	if d.State != state {
		d.State = state
		d.StateChangeDate = date
	}
	return d
}

// idle clears in-flight info and returns to IDLE.
func (d ScheduleData) idle(date time.Time) ScheduleData {
	d.TriggerInfo = nil
	d.PreparedInfo = nil
	return d.withState(StateIdle, date)
}

// Triggered moves IDLE to TRIGGERED.
func (d ScheduleData) Triggered(info TriggeringInfo, date time.Time) ScheduleData {
	if d.State != StateIdle {
		return d
	}
	d.TriggerInfo = &info
	d.PreparedInfo = nil
	return d.withState(StateTriggered, date)
}

// Prepared moves TRIGGERED to PREPARED.
func (d ScheduleData) Prepared(info PreparedInfo, date time.Time) ScheduleData {
	if d.State != StateTriggered {
		return d
	}
	d.PreparedInfo = &info
	return d.withState(StatePrepared, date)
}

// PrepareCancelled moves TRIGGERED to IDLE. A penalized cancel counts as a
// fulfillment toward the limit.
func (d ScheduleData) PrepareCancelled(date time.Time, penalize bool) ScheduleData {
	if d.State != StateTriggered {
		return d
	}
	if penalize {
		d.ExecutionCount++
	}
	return d.idle(date)
}

// ExecutionCancelled moves a TRIGGERED schedule whose delay was cancelled
// back to IDLE.
func (d ScheduleData) ExecutionCancelled(date time.Time) ScheduleData {
	if d.State != StateTriggered && d.State != StatePrepared {
		return d
	}
	return d.idle(date)
}

// PrepareInterrupted returns an in-flight schedule to TRIGGERED so it is
// prepared again.
func (d ScheduleData) PrepareInterrupted(date time.Time) ScheduleData {
	switch d.State {
	case StateTriggered, StatePrepared, StateExecuting:
	default:
		return d
	}
	if d.TriggerInfo == nil {
		return d.idle(date)
	}
	d.PreparedInfo = nil
	return d.withState(StateTriggered, date)
}

// ExecutionSkipped moves PREPARED to IDLE. An EXECUTING schedule whose
// executor asked for a retry can be skipped too.
func (d ScheduleData) ExecutionSkipped(date time.Time) ScheduleData {
	if d.State != StatePrepared && d.State != StateExecuting {
		return d
	}
	return d.idle(date)
}

// ExecutionInvalidated re-enters preparation, or IDLE when there is no
// trigger info to prepare from.
func (d ScheduleData) ExecutionInvalidated(date time.Time) ScheduleData {
	if d.State != StatePrepared && d.State != StateExecuting {
		return d
	}
	if d.TriggerInfo == nil {
		return d.idle(date)
	}
	d.PreparedInfo = nil
	return d.withState(StateTriggered, date)
}

// Executing moves PREPARED to EXECUTING.
func (d ScheduleData) Executing(date time.Time) ScheduleData {
	if d.State != StatePrepared {
		return d
	}
	return d.withState(StateExecuting, date)
}

// ExecutionInterrupted resolves an EXECUTING schedule after a restart:
// retry re-enters TRIGGERED, otherwise it finishes.
func (d ScheduleData) ExecutionInterrupted(date time.Time, retry bool) ScheduleData {
	if d.State != StateExecuting {
		return d
	}
	if retry {
		return d.PrepareInterrupted(date)
	}
	return d.Finished(date)
}

// Finished records a fulfillment. The schedule cools down in PAUSED when
// it has an interval, else returns to IDLE.
func (d ScheduleData) Finished(date time.Time) ScheduleData {
	if d.State != StateExecuting {
		return d
	}
	d.ExecutionCount++
	d = d.idle(date)
	if d.Schedule.Interval > 0 {
		d = d.withState(StatePaused, date)
	}
	return d
}

// Idle ends a PAUSED cooldown.
func (d ScheduleData) Idle(date time.Time) ScheduleData {
	if d.State != StatePaused {
		return d
	}
	return d.withState(StateIdle, date)
}

// WithSchedule replaces the definition, keeping the original creation time.
func (d ScheduleData) WithSchedule(s Schedule) ScheduleData {
	s.Created = d.Schedule.Created
	d.Schedule = s
	return d
}

// IsOverLimit reports whether the fulfillment limit is used up.
func (d ScheduleData) IsOverLimit() bool {
	return d.Schedule.Limit > 0 && d.ExecutionCount >= d.Schedule.Limit
}

// ShouldDelete reports whether the record is spent: expired, or over its
// limit and not in flight.
func (d ScheduleData) ShouldDelete(now time.Time) bool {
	if d.Schedule.IsExpired(now) {
		return true
	}
	return d.IsOverLimit() && (d.State == StateIdle || d.State == StatePaused)
}

// PausedRemaining returns the cooldown left at now. Negative when overdue.
func (d ScheduleData) PausedRemaining(now time.Time) time.Duration {
	return d.Schedule.IntervalDuration() - now.Sub(d.StateChangeDate)
}
