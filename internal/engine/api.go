package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

// SetEnginePaused pauses or resumes execution of every schedule. Paused
// schedules still trigger and prepare but wait in the ready check.
func (e *Engine) SetEnginePaused(paused bool) {
	e.enginePaused.Store(paused)
	slog.Info("engine paused state changed", "paused", paused)
	e.notifier.Notify()
}

// SetExecutionPaused pauses or resumes handing schedules to the executor.
func (e *Engine) SetExecutionPaused(paused bool) {
	e.executionPaused.Store(paused)
	slog.Info("execution paused state changed", "paused", paused)
	e.notifier.Notify()
}

// NotifyConditionsChanged wakes schedules waiting on delay conditions or a
// NOT_READY verdict so they check again.
func (e *Engine) NotifyConditionsChanged() {
	e.notifier.Notify()
}

// UpsertSchedules validates and stores schedules. New schedules start IDLE.
// Existing ones keep their lifecycle state and creation time; an in-flight
// preparation of a changed definition is invalidated before execution.
func (e *Engine) UpsertSchedules(ctx context.Context, schedules []model.Schedule) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}

	byID := make(map[string]model.Schedule, len(schedules))
	ids := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if err := s.BackfillTriggerIDs(); err != nil {
			return NewInvalidScheduleError(s.Identifier, err)
		}
		if err := s.Validate(); err != nil {
			return NewInvalidScheduleError(s.Identifier, err)
		}
		if _, dup := byID[s.Identifier]; dup {
			return NewInvalidScheduleError(s.Identifier, errors.New("duplicate schedule id"))
		}
		byID[s.Identifier] = s
		ids = append(ids, s.Identifier)
	}
	if len(ids) == 0 {
		return nil
	}

	err := e.submit(ctx, "upsert", func(ctx context.Context) error {
		now := e.clock.Now()
		records, err := e.schedules.UpsertSchedules(ctx, ids, func(id string, existing *model.ScheduleData) model.ScheduleData {
			if existing == nil {
				return model.NewScheduleData(byID[id], now)
			}
			return existing.WithSchedule(byID[id])
		})
		if err != nil {
			return storeError("upsert schedules", err)
		}
		if err := e.processor.UpdateSchedules(ctx, records); err != nil {
			return storeError("update triggers", err)
		}
		slog.Info("schedules upserted", "schedule_ids", ids)
		return nil
	})
	if err == nil {
		// Waiting pipelines re-check their prepared fingerprint.
		e.notifier.Notify()
	}
	return err
}

// StopSchedules ends the schedules now so they wind down: they stop
// triggering, in-flight work is cancelled at its next check, and idle ones
// are deleted.
func (e *Engine) StopSchedules(ctx context.Context, ids []string) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}
	err := e.submit(ctx, "stop schedules", func(ctx context.Context) error {
		now := e.clock.Now()
		var stopped []model.ScheduleData
		var spent []string
		for _, id := range ids {
			updated, err := e.schedules.UpdateSchedule(ctx, id, func(d model.ScheduleData) model.ScheduleData {
				if d.Schedule.EndDate == nil || d.Schedule.EndDate.After(now) {
					end := now
					d.Schedule.EndDate = &end
				}
				return d
			})
			if err != nil {
				return storeError("stop schedule", err)
			}
			if updated == nil {
				continue
			}
			if updated.State == model.StateIdle || updated.State == model.StatePaused {
				spent = append(spent, id)
				continue
			}
			stopped = append(stopped, *updated)
		}
		if err := e.processor.UpdateSchedules(ctx, stopped); err != nil {
			return storeError("update triggers", err)
		}
		return e.deleteSchedules(ctx, spent)
	})
	if err == nil {
		e.notifier.Notify()
	}
	return err
}

// CancelSchedules deletes schedules and their trigger state, interrupting
// any in-flight work.
func (e *Engine) CancelSchedules(ctx context.Context, ids []string) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}
	return e.submit(ctx, "cancel schedules", func(ctx context.Context) error {
		return e.deleteSchedules(ctx, ids)
	})
}

// CancelSchedulesByGroup deletes every schedule in group.
func (e *Engine) CancelSchedulesByGroup(ctx context.Context, group string) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}
	return e.submit(ctx, "cancel group", func(ctx context.Context) error {
		ids, err := e.schedules.DeleteSchedulesByGroup(ctx, group)
		if err != nil {
			return storeError("delete group", err)
		}
		e.cancelPipelines(ids)
		e.stopTimers(ids)
		if err := e.processor.CancelGroup(ctx, group); err != nil {
			return storeError("delete triggers", err)
		}
		if len(ids) > 0 {
			e.recorder.Deleted(len(ids))
			slog.Info("schedule group deleted", "group", group, "schedule_ids", ids)
		}
		return nil
	})
}

// CancelSchedulesWith deletes every schedule with the given payload type.
func (e *Engine) CancelSchedulesWith(ctx context.Context, payloadType model.PayloadType) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}
	return e.submit(ctx, "cancel by type", func(ctx context.Context) error {
		all, err := e.schedules.GetSchedules(ctx)
		if err != nil {
			return storeError("get schedules", err)
		}
		var ids []string
		for _, d := range all {
			if d.Schedule.Type == payloadType {
				ids = append(ids, d.Schedule.Identifier)
			}
		}
		return e.deleteSchedules(ctx, ids)
	})
}

// GetSchedule returns a schedule record, or nil if it does not exist or is
// spent.
func (e *Engine) GetSchedule(ctx context.Context, id string) (*model.ScheduleData, error) {
	if err := e.awaitRestored(ctx); err != nil {
		return nil, err
	}
	d, err := e.schedules.GetSchedule(ctx, id)
	if err != nil {
		return nil, storeError("get schedule", err)
	}
	if d == nil || d.ShouldDelete(e.clock.Now()) {
		return nil, nil
	}
	return d, nil
}

// GetSchedules returns every live schedule in restore order.
func (e *Engine) GetSchedules(ctx context.Context) ([]model.ScheduleData, error) {
	if err := e.awaitRestored(ctx); err != nil {
		return nil, err
	}
	all, err := e.schedules.GetSchedules(ctx)
	if err != nil {
		return nil, storeError("get schedules", err)
	}
	return e.live(all), nil
}

// GetSchedulesByGroup returns the live schedules of a group.
func (e *Engine) GetSchedulesByGroup(ctx context.Context, group string) ([]model.ScheduleData, error) {
	if err := e.awaitRestored(ctx); err != nil {
		return nil, err
	}
	all, err := e.schedules.GetSchedulesByGroup(ctx, group)
	if err != nil {
		return nil, storeError("get schedules", err)
	}
	return e.live(all), nil
}

func (e *Engine) live(records []model.ScheduleData) []model.ScheduleData {
	now := e.clock.Now()
	out := make([]model.ScheduleData, 0, len(records))
	for _, d := range records {
		if !d.ShouldDelete(now) {
			out = append(out, d)
		}
	}
	return out
}

// AddEvent evaluates one event and starts the pipelines of schedules it
// triggers before returning. Failures on individual schedules are logged,
// not returned.
func (e *Engine) AddEvent(ctx context.Context, ev trigger.Event) error {
	if err := e.awaitRestored(ctx); err != nil {
		return err
	}
	if obs, ok := e.env.(interface{ Observe(trigger.Event) }); ok {
		obs.Observe(ev)
	}
	return e.submit(ctx, "event", func(ctx context.Context) error {
		e.handleEvent(ctx, ev)
		return nil
	})
}

// ConsumeEvents feeds events to AddEvent in arrival order until feed is
// closed, ctx is done, or the engine stops.
func (e *Engine) ConsumeEvents(ctx context.Context, feed <-chan trigger.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			if err := e.AddEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// WaitIdle blocks until no task is queued and no pipeline is running. A
// pipeline waiting on delay conditions or a NOT_READY verdict counts as
// running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	select {
	case <-e.activity.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quiescent reports whether no task is queued and every running pipeline
// is parked on a delay, a NOT_READY wait or a prepare backoff. gen changes
// whenever that activity changes, so a caller can tell a stable quiescent
// engine from one that passed through quiescence.
func (e *Engine) Quiescent() (ok bool, gen uint64) {
	return e.activity.quiescent()
}

// handleEvent runs on the loop.
func (e *Engine) handleEvent(ctx context.Context, ev trigger.Event) {
	results, err := e.processor.ProcessEvent(ctx, ev)
	if err != nil {
		slog.Warn("event partially processed", "event", ev.Kind, "error", err)
	}
	for _, r := range results {
		if err := e.handleTriggerResult(ctx, r); err != nil {
			slog.Error("trigger result handling failed",
				"schedule_id", r.ScheduleID,
				"execution_type", r.ExecutionType,
				"error", err,
			)
		}
	}
}

func (e *Engine) handleTriggerResult(ctx context.Context, r TriggerResult) error {
	e.recorder.TriggerFired(string(r.ExecutionType))
	now := e.clock.Now()

	switch r.ExecutionType {
	case trigger.ExecutionTypeExecution:
		triggerCtx := r.Context
		info := model.TriggeringInfo{
			Context:   &triggerCtx,
			Date:      r.Date,
			SessionID: e.ids.Generate(),
		}
		updated, err := e.applyState(ctx, r.ScheduleID, func(d model.ScheduleData) model.ScheduleData {
			return d.Triggered(info, now)
		})
		if err != nil || updated == nil {
			return err
		}
		if updated.State != model.StateTriggered || updated.TriggerInfo.SessionID != info.SessionID {
			return nil
		}
		slog.Info("schedule triggered",
			"schedule_id", r.ScheduleID,
			"trigger_type", r.Context.Type,
			"session_id", info.SessionID,
		)
		e.dispatch(r.ScheduleID)

	case trigger.ExecutionTypeDelayCancellation:
		updated, err := e.applyState(ctx, r.ScheduleID, func(d model.ScheduleData) model.ScheduleData {
			if d.State != model.StateTriggered {
				return d
			}
			return d.ExecutionCancelled(now)
		})
		if err != nil || updated == nil || updated.State != model.StateIdle {
			return err
		}
		e.cancelPipelines([]string{r.ScheduleID})
		slog.Info("schedule delay cancelled", "schedule_id", r.ScheduleID)
	}
	return nil
}
