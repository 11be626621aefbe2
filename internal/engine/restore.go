package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/automation/internal/model"
)

// restore reconciles persisted state after a restart. It runs as the first
// loop task and always opens the restored gate, recording any failure for
// callers to see.
func (e *Engine) restore(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			e.restoreErr = &RuntimeError{Code: ErrCodeNotRestored, Message: "restore failed", Err: err}
		}
		close(e.restored)
	}()

	records, err := e.schedules.GetSchedules(ctx)
	if err != nil {
		return storeError("load schedules", err)
	}

	now := e.clock.Now()
	var live []model.ScheduleData
	var spent []string
	for _, r := range records {
		if r.ShouldDelete(now) {
			spent = append(spent, r.Schedule.Identifier)
			continue
		}
		live = append(live, r)
	}

	if err := e.deleteSchedules(ctx, spent); err != nil {
		return err
	}
	if err := e.processor.RestoreSchedules(ctx, live); err != nil {
		return storeError("restore triggers", err)
	}

	for _, r := range live {
		if err := e.restoreSchedule(ctx, r, now); err != nil {
			slog.Error("schedule restore failed", "schedule_id", r.Schedule.Identifier, "error", err)
		}
	}

	slog.Info("engine restored", "schedules", len(live), "deleted", len(spent))
	return nil
}

// restoreSchedule resolves one record left in flight by the previous run.
func (e *Engine) restoreSchedule(ctx context.Context, r model.ScheduleData, now time.Time) error {
	id := r.Schedule.Identifier

	var fn transition
	switch r.State {
	case model.StateExecuting:
		if r.PreparedInfo == nil {
			fn = func(d model.ScheduleData) model.ScheduleData { return d.PrepareInterrupted(now) }
			break
		}
		retry := e.executor.Interrupted(ctx, r.Schedule, *r.PreparedInfo) == InterruptResultRetry
		slog.Info("execution interrupted", "schedule_id", id, "retry", retry)
		fn = func(d model.ScheduleData) model.ScheduleData { return d.ExecutionInterrupted(now, retry) }

	case model.StatePrepared, model.StateTriggered:
		fn = func(d model.ScheduleData) model.ScheduleData { return d.PrepareInterrupted(now) }

	case model.StatePaused:
		e.armTimer(id, r.PausedRemaining(now))
		return nil

	default:
		return nil
	}

	updated, err := e.applyState(ctx, id, fn)
	if err != nil || updated == nil {
		return err
	}
	if updated.State == model.StateTriggered {
		e.dispatch(id)
		return nil
	}
	return e.afterSettled(ctx, *updated)
}
