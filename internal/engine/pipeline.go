package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/automation/internal/clock"
	"github.com/roach88/automation/internal/model"
)

// processTriggeredSchedule drives one triggered schedule through delay,
// preparation and the execute loop. Re-running it on a schedule that is no
// longer TRIGGERED does nothing.
func (e *Engine) processTriggeredSchedule(ctx context.Context, scheduleID string) {
	for {
		prepared, err := e.prepareSchedule(ctx, scheduleID)
		if err == nil && prepared != nil {
			var again bool
			again, err = e.executeSchedule(ctx, scheduleID, prepared)
			if err == nil && again {
				continue
			}
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("schedule pipeline failed", "schedule_id", scheduleID, "error", err)
		}
		return
	}
}

// loadTriggered returns the record if it is still TRIGGERED in the given
// trigger session. An empty sessionID accepts any session.
func (e *Engine) loadTriggered(ctx context.Context, scheduleID, sessionID string) (*model.ScheduleData, error) {
	data, err := e.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, storeError("get schedule", err)
	}
	if data == nil || data.State != model.StateTriggered || data.TriggerInfo == nil {
		return nil, nil
	}
	if sessionID != "" && data.TriggerInfo.SessionID != sessionID {
		return nil, nil
	}
	return data, nil
}

// prepareSchedule waits out the delay and asks the preparer for a verdict.
// Returns nil when the pipeline should end.
func (e *Engine) prepareSchedule(ctx context.Context, scheduleID string) (*PreparedSchedule, error) {
	for {
		data, err := e.loadTriggered(ctx, scheduleID, "")
		if err != nil || data == nil {
			return nil, err
		}
		sessionID := data.TriggerInfo.SessionID

		now := e.clock.Now()
		if !data.Schedule.IsInActiveWindow(now) {
			slog.Info("schedule no longer active, cancelling", "schedule_id", scheduleID)
			return nil, e.settle(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.ExecutionCancelled(now)
			})
		}

		if data.Schedule.Delay != nil {
			err := e.parked(func() error {
				return e.delays.Process(ctx, data.Schedule.Delay, data.TriggerInfo.Date)
			})
			if err != nil {
				return nil, err
			}
			data, err = e.loadTriggered(ctx, scheduleID, sessionID)
			if err != nil || data == nil {
				return nil, err
			}
		}

		schedule := data.Schedule
		result, err := e.preparer.Prepare(ctx, schedule, data.TriggerInfo.Context)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.recorder.Prepared("error")
			slog.Warn("prepare failed, retrying",
				"schedule_id", scheduleID,
				"error", err,
				"backoff", e.cfg.PrepareRetryBackoff,
			)
			err = e.parked(func() error {
				return clock.Sleep(ctx, e.clock, e.cfg.PrepareRetryBackoff)
			})
			if err != nil {
				return nil, err
			}
			continue
		}

		e.recorder.Prepared(result.Kind.String())
		slog.Debug("prepare result", "schedule_id", scheduleID, "result", result.Kind)

		now = e.clock.Now()
		switch result.Kind {
		case PrepareKindPrepared:
			return e.markPrepared(ctx, schedule, sessionID, result.Prepared)

		case PrepareKindSkip, PrepareKindPenalize:
			penalize := result.Kind == PrepareKindPenalize
			return nil, e.settle(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.PrepareCancelled(now, penalize)
			})

		case PrepareKindCancel:
			if err := e.settle(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.PrepareCancelled(now, false)
			}); err != nil {
				return nil, err
			}
			e.preparer.Cancelled(ctx, schedule)
			return nil, nil

		case PrepareKindInvalidate:
			slog.Info("preparation invalidated, preparing again", "schedule_id", scheduleID)
			continue

		default:
			return nil, fmt.Errorf("unknown prepare result %d", result.Kind)
		}
	}
}

// markPrepared records the preparation under the current definition's
// fingerprint so later definition changes invalidate it.
func (e *Engine) markPrepared(ctx context.Context, schedule model.Schedule, sessionID string, p *PreparedSchedule) (*PreparedSchedule, error) {
	if p == nil {
		return nil, errors.New("preparer returned prepared without a schedule")
	}
	fingerprint, err := schedule.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	prepared := *p
	prepared.Schedule = schedule
	prepared.Info.ScheduleID = schedule.Identifier
	prepared.Info.Fingerprint = fingerprint
	prepared.Info.TriggerSessionID = sessionID
	prepared.Info.Priority = schedule.Priority

	now := e.clock.Now()
	updated, err := e.updateState(ctx, schedule.Identifier, func(d model.ScheduleData) model.ScheduleData {
		if d.TriggerInfo == nil || d.TriggerInfo.SessionID != sessionID {
			return d
		}
		return d.Prepared(prepared.Info, now)
	})
	if err != nil || updated == nil || updated.State != model.StatePrepared {
		return nil, err
	}
	return &prepared, nil
}

// executeSchedule runs the ready-check/execute cycle. It reports whether
// the schedule went back to TRIGGERED and must be prepared again.
func (e *Engine) executeSchedule(ctx context.Context, scheduleID string, prepared *PreparedSchedule) (bool, error) {
	for {
		changed := e.notifier.Wait()

		verdict, ok, err := e.checkReady(ctx, prepared)
		if err != nil || !ok {
			return false, err
		}

		now := e.clock.Now()
		switch verdict {
		case ReadyResultNotReady:
			slog.Debug("schedule not ready, waiting", "schedule_id", scheduleID)
			err := e.parked(func() error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-changed:
				case <-e.clock.After(e.cfg.ReadyRecheckInterval):
				}
				return nil
			})
			if err != nil {
				return false, err
			}
			continue

		case ReadyResultSkip:
			return false, e.settle(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.ExecutionSkipped(now)
			})

		case ReadyResultInvalidate:
			updated, err := e.updateState(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.ExecutionInvalidated(now)
			})
			if err != nil || updated == nil {
				return false, err
			}
			return updated.State == model.StateTriggered, nil

		case ReadyResultReady:
		default:
			return false, fmt.Errorf("unknown ready result %d", verdict)
		}

		result, ok, err := e.execute(ctx, prepared)
		if err != nil || !ok {
			return false, err
		}

		now = e.clock.Now()
		switch result {
		case ExecuteResultFinished:
			return false, e.settle(ctx, scheduleID, func(d model.ScheduleData) model.ScheduleData {
				return d.Finished(now)
			})
		case ExecuteResultCancel:
			return false, e.submit(ctx, "cancel "+scheduleID, func(ctx context.Context) error {
				return e.deleteSchedules(ctx, []string{scheduleID})
			})
		case ExecuteResultRetry:
			continue
		default:
			return false, fmt.Errorf("unknown execute result %d", result)
		}
	}
}

// checkReady gates execution. ok is false when the schedule was deleted or
// left the prepared session, in which case the pipeline just ends.
func (e *Engine) checkReady(ctx context.Context, prepared *PreparedSchedule) (ReadyResult, bool, error) {
	id := prepared.Schedule.Identifier
	data, err := e.schedules.GetSchedule(ctx, id)
	if err != nil {
		return 0, false, storeError("get schedule", err)
	}
	if data == nil || data.PreparedInfo == nil ||
		(data.State != model.StatePrepared && data.State != model.StateExecuting) ||
		data.PreparedInfo.TriggerSessionID != prepared.Info.TriggerSessionID {
		return 0, false, nil
	}

	fingerprint, err := data.Schedule.Fingerprint()
	if err != nil || fingerprint != prepared.Info.Fingerprint {
		return ReadyResultInvalidate, true, nil
	}

	if r := e.executor.IsReadyPrecheck(ctx, data.Schedule); r != ReadyResultReady {
		return r, true, nil
	}
	if !e.delays.AreConditionsMet(data.Schedule.Delay) {
		return ReadyResultNotReady, true, nil
	}
	if e.enginePaused.Load() || e.executionPaused.Load() {
		return ReadyResultNotReady, true, nil
	}
	if !data.Schedule.IsInActiveWindow(e.clock.Now()) {
		return ReadyResultSkip, true, nil
	}
	return e.executor.IsReady(ctx, prepared), true, nil
}

// execute moves the schedule to EXECUTING while the executor runs, and
// waits for both. ok is false when the state write found the schedule gone
// or no longer prepared.
func (e *Engine) execute(ctx context.Context, prepared *PreparedSchedule) (ExecuteResult, bool, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	id := prepared.Schedule.Identifier
	now := e.clock.Now()

	var updated *model.ScheduleData
	var result ExecuteResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		updated, err = e.updateState(gctx, id, func(d model.ScheduleData) model.ScheduleData {
			return d.Executing(now)
		})
		return err
	})
	g.Go(func() error {
		result = e.executor.Execute(ctx, prepared)
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	if updated == nil || updated.State != model.StateExecuting {
		slog.Warn("schedule changed during execution, dropping result", "schedule_id", id, "result", result)
		return 0, false, nil
	}
	e.recorder.Executed(result.String())
	slog.Info("schedule executed", "schedule_id", id, "result", result)
	return result, true, nil
}

// parked runs a blocking wait with the pipeline counted as parked for
// Quiescent.
func (e *Engine) parked(wait func() error) error {
	e.activity.park()
	defer e.activity.unpark()
	return wait()
}
