package engine

import (
	"context"
	"encoding/json"

	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

// ScheduleStore persists schedule lifecycle records. Transforms must be
// applied atomically per id. Reads return nil for absent records.
// Implemented by *store.Store.
type ScheduleStore interface {
	GetSchedules(ctx context.Context) ([]model.ScheduleData, error)
	GetSchedulesByGroup(ctx context.Context, group string) ([]model.ScheduleData, error)
	GetSchedulesByIDs(ctx context.Context, ids []string) ([]model.ScheduleData, error)
	GetSchedule(ctx context.Context, id string) (*model.ScheduleData, error)
	UpdateSchedule(ctx context.Context, id string, fn func(model.ScheduleData) model.ScheduleData) (*model.ScheduleData, error)
	UpsertSchedules(ctx context.Context, ids []string, fn func(id string, existing *model.ScheduleData) model.ScheduleData) ([]model.ScheduleData, error)
	DeleteSchedules(ctx context.Context, ids []string) error
	DeleteSchedulesByGroup(ctx context.Context, group string) ([]string, error)
}

// TriggerStore persists trigger counting state per (schedule, execution
// type, trigger). Implemented by *store.Store.
type TriggerStore interface {
	GetTrigger(ctx context.Context, scheduleID string, execType trigger.ExecutionType, triggerID string) (*trigger.Data, error)
	GetTriggers(ctx context.Context, scheduleID string) ([]*trigger.Data, error)
	UpsertTriggers(ctx context.Context, triggers []*trigger.Data) error
	DeleteTriggers(ctx context.Context, scheduleIDs []string) error
	DeleteTriggersFor(ctx context.Context, scheduleID string, execType trigger.ExecutionType, triggerIDs []string) error
	DeleteTriggersExcluding(ctx context.Context, scheduleIDs []string) error
}

// PrepareKind is the preparer's verdict.
type PrepareKind int

const (
	PrepareKindPrepared PrepareKind = iota + 1
	PrepareKindSkip
	PrepareKindPenalize
	PrepareKindCancel
	PrepareKindInvalidate
)

func (k PrepareKind) String() string {
	switch k {
	case PrepareKindPrepared:
		return "prepared"
	case PrepareKindSkip:
		return "skip"
	case PrepareKindPenalize:
		return "penalize"
	case PrepareKindCancel:
		return "cancel"
	case PrepareKindInvalidate:
		return "invalidate"
	}
	return "unknown"
}

// PreparedSchedule is a schedule resolved into an executable form.
type PreparedSchedule struct {
	Schedule model.Schedule

	// Payload is the resolved payload handed to the executor.
	Payload json.RawMessage

	// Info is filled in by the engine before the schedule is persisted as
	// PREPARED. Preparers may set ExperimentResult and
	// AdditionalAudienceCheckResult.
	Info model.PreparedInfo
}

// PrepareResult is returned by Preparer.Prepare. Prepared is set only for
// PrepareKindPrepared.
type PrepareResult struct {
	Kind     PrepareKind
	Prepared *PreparedSchedule
}

// Prepared returns a successful result.
func Prepared(p *PreparedSchedule) PrepareResult {
	return PrepareResult{Kind: PrepareKindPrepared, Prepared: p}
}

// Preparer resolves triggered schedules. A returned error leaves the
// schedule TRIGGERED and preparation is retried after a backoff.
type Preparer interface {
	Prepare(ctx context.Context, schedule model.Schedule, triggerCtx *trigger.Context) (PrepareResult, error)

	// Cancelled is called after a prepare Cancel verdict returned the
	// schedule to IDLE.
	Cancelled(ctx context.Context, schedule model.Schedule)
}

// ReadyResult is a readiness verdict.
type ReadyResult int

const (
	ReadyResultReady ReadyResult = iota + 1
	ReadyResultNotReady
	ReadyResultSkip
	ReadyResultInvalidate
)

func (r ReadyResult) String() string {
	switch r {
	case ReadyResultReady:
		return "ready"
	case ReadyResultNotReady:
		return "not_ready"
	case ReadyResultSkip:
		return "skip"
	case ReadyResultInvalidate:
		return "invalidate"
	}
	return "unknown"
}

// ExecuteResult is the executor's verdict.
type ExecuteResult int

const (
	ExecuteResultFinished ExecuteResult = iota + 1
	ExecuteResultCancel
	ExecuteResultRetry
)

func (r ExecuteResult) String() string {
	switch r {
	case ExecuteResultFinished:
		return "finished"
	case ExecuteResultCancel:
		return "cancel"
	case ExecuteResultRetry:
		return "retry"
	}
	return "unknown"
}

// InterruptResult resolves an execution cut short by a restart.
type InterruptResult int

const (
	InterruptResultRetry InterruptResult = iota + 1
	InterruptResultFinish
)

// Executor checks readiness of prepared schedules and performs them.
type Executor interface {
	IsReadyPrecheck(ctx context.Context, schedule model.Schedule) ReadyResult
	IsReady(ctx context.Context, prepared *PreparedSchedule) ReadyResult
	Execute(ctx context.Context, prepared *PreparedSchedule) ExecuteResult
	Interrupted(ctx context.Context, schedule model.Schedule, info model.PreparedInfo) InterruptResult
}

// Recorder receives engine telemetry. Implemented by metrics.Recorder.
type Recorder interface {
	TriggerFired(executionType string)
	Transition(from, to string)
	Prepared(outcome string)
	Executed(outcome string)
	Deleted(count int)
}

type nopRecorder struct{}

func (nopRecorder) TriggerFired(string)      {}
func (nopRecorder) Transition(string, string) {}
func (nopRecorder) Prepared(string)           {}
func (nopRecorder) Executed(string)           {}
func (nopRecorder) Deleted(int)               {}
