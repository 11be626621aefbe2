package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error returned by the engine's public surface.
//
// Runtime errors include:
//   - Not restored: startup restore failed, so state cannot be trusted
//   - Stopped: the engine was stopped or never started
//   - Invalid schedule: a schedule failed validation on upsert
//   - Store: the schedule or trigger store failed
//
// Collaborator faults and policy outcomes never surface as RuntimeErrors;
// they are logged and mapped to state transitions.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ScheduleID identifies the affected schedule, if any.
	ScheduleID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNotRestored indicates startup restore did not complete.
	ErrCodeNotRestored RuntimeErrorCode = "NOT_RESTORED"

	// ErrCodeStopped indicates the engine is not running.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"

	// ErrCodeInvalidSchedule indicates a schedule failed validation.
	ErrCodeInvalidSchedule RuntimeErrorCode = "INVALID_SCHEDULE"

	// ErrCodeStore indicates a store read or write failed.
	ErrCodeStore RuntimeErrorCode = "STORE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ScheduleID != "" {
		msg = fmt.Sprintf("%s (schedule=%s)", msg, e.ScheduleID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsNotRestoredError returns true if restore failed.
// Uses errors.As to handle wrapped errors.
func IsNotRestoredError(err error) bool { return hasCode(err, ErrCodeNotRestored) }

// IsStoppedError returns true if the engine was not running.
func IsStoppedError(err error) bool { return hasCode(err, ErrCodeStopped) }

// IsInvalidScheduleError returns true if a schedule failed validation.
func IsInvalidScheduleError(err error) bool { return hasCode(err, ErrCodeInvalidSchedule) }

// IsStoreError returns true if the store failed.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStore) }

var errStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine is not running"}

// NewInvalidScheduleError creates a RuntimeError for a rejected schedule.
func NewInvalidScheduleError(scheduleID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidSchedule,
		Message:    "schedule rejected",
		ScheduleID: scheduleID,
		Err:        err,
	}
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Code: ErrCodeStore, Message: op, Err: err}
}
