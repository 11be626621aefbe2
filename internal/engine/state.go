package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/automation/internal/model"
)

// transition is a lifecycle change applied to the stored record. It must
// return the record unchanged when it does not apply.
type transition func(model.ScheduleData) model.ScheduleData

// applyState runs fn atomically against the stored record and keeps the
// trigger processor in step. Called only from the loop.
// Returns nil if the schedule no longer exists.
func (e *Engine) applyState(ctx context.Context, scheduleID string, fn transition) (*model.ScheduleData, error) {
	var from model.ScheduleState
	updated, err := e.schedules.UpdateSchedule(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
		from = d.State
		return fn(d)
	})
	if err != nil {
		return nil, storeError("update schedule", err)
	}
	if updated == nil || updated.State == from {
		return updated, nil
	}

	slog.Debug("schedule state changed",
		"schedule_id", scheduleID,
		"from", from,
		"to", updated.State,
		"execution_count", updated.ExecutionCount,
	)
	e.recorder.Transition(string(from), string(updated.State))
	if err := e.processor.UpdateScheduleState(ctx, scheduleID, updated.State); err != nil {
		return updated, storeError("update trigger state", err)
	}
	return updated, nil
}

// updateState is applyState for pipelines: the write is serialized on the
// loop.
func (e *Engine) updateState(ctx context.Context, scheduleID string, fn transition) (*model.ScheduleData, error) {
	var out *model.ScheduleData
	err := e.submit(ctx, "update "+scheduleID, func(ctx context.Context) error {
		var err error
		out, err = e.applyState(ctx, scheduleID, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// settle applies a transition that ends a pipeline, then deletes the
// schedule if it is spent or arms its cooldown timer if it paused.
func (e *Engine) settle(ctx context.Context, scheduleID string, fn transition) error {
	return e.submit(ctx, "settle "+scheduleID, func(ctx context.Context) error {
		updated, err := e.applyState(ctx, scheduleID, fn)
		if err != nil || updated == nil {
			return err
		}
		return e.afterSettled(ctx, *updated)
	})
}

// afterSettled expects to run on the loop.
func (e *Engine) afterSettled(ctx context.Context, d model.ScheduleData) error {
	now := e.clock.Now()
	switch {
	case d.ShouldDelete(now):
		return e.deleteSchedules(ctx, []string{d.Schedule.Identifier})
	case d.State == model.StatePaused:
		e.armTimer(d.Schedule.Identifier, d.PausedRemaining(now))
	}
	return nil
}

// deleteSchedules removes schedules, their trigger state, timers and
// pipelines. Called only from the loop.
func (e *Engine) deleteSchedules(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	e.cancelPipelines(scheduleIDs)
	e.stopTimers(scheduleIDs)

	if err := e.schedules.DeleteSchedules(ctx, scheduleIDs); err != nil {
		return storeError("delete schedules", err)
	}
	if err := e.processor.Cancel(ctx, scheduleIDs); err != nil {
		return storeError("delete triggers", err)
	}

	e.recorder.Deleted(len(scheduleIDs))
	slog.Info("schedules deleted", "schedule_ids", scheduleIDs)
	return nil
}

// endInterval ends a PAUSED cooldown. Runs on the loop.
func (e *Engine) endInterval(ctx context.Context, scheduleID string) error {
	e.mu.Lock()
	delete(e.timers, scheduleID)
	e.mu.Unlock()

	now := e.clock.Now()
	updated, err := e.applyState(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
		return d.Idle(now)
	})
	if err != nil || updated == nil {
		return err
	}
	if updated.ShouldDelete(now) {
		return e.deleteSchedules(ctx, []string{scheduleID})
	}
	return nil
}
