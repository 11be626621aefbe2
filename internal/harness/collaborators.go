package harness

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/roach88/automation/internal/engine"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/store"
	"github.com/roach88/automation/internal/trigger"
)

// errScripted is the error returned by a scripted prepare failure.
var errScripted = errors.New("scripted prepare error")

// scripts hands out scripted verdicts in order, per schedule and kind.
type scripts struct {
	mu     sync.Mutex
	script map[string]Script
	used   map[string]int
}

func newScripts(script map[string]Script) *scripts {
	return &scripts{script: script, used: make(map[string]int)}
}

func (s *scripts) next(scheduleID, kind, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []string
	sc := s.script[scheduleID]
	switch kind {
	case "prepare":
		list = sc.Prepare
	case "ready":
		list = sc.Ready
	case "execute":
		list = sc.Execute
	case "interrupted":
		list = sc.Interrupted
	}

	key := scheduleID + "/" + kind
	i := s.used[key]
	if i >= len(list) {
		return fallback
	}
	s.used[key] = i + 1
	return list[i]
}

// scriptedPreparer returns scripted verdicts and records them.
type scriptedPreparer struct {
	scripts *scripts
	trace   *traceRecorder
}

func (p *scriptedPreparer) Prepare(_ context.Context, s model.Schedule, _ *trigger.Context) (engine.PrepareResult, error) {
	verdict := p.scripts.next(s.Identifier, "prepare", "prepared")
	p.trace.call(s.Identifier, "prepare="+verdict)

	switch verdict {
	case "skip":
		return engine.PrepareResult{Kind: engine.PrepareKindSkip}, nil
	case "penalize":
		return engine.PrepareResult{Kind: engine.PrepareKindPenalize}, nil
	case "cancel":
		return engine.PrepareResult{Kind: engine.PrepareKindCancel}, nil
	case "invalidate":
		return engine.PrepareResult{Kind: engine.PrepareKindInvalidate}, nil
	case "error":
		return engine.PrepareResult{}, errScripted
	}
	return engine.Prepared(&engine.PreparedSchedule{Payload: payloadOf(s)}), nil
}

func (p *scriptedPreparer) Cancelled(_ context.Context, s model.Schedule) {
	p.trace.call(s.Identifier, "cancelled")
}

// payloadOf returns the raw payload the executor would act on.
func payloadOf(s model.Schedule) json.RawMessage {
	switch p := s.Payload().(type) {
	case model.ActionsPayload:
		return p.Actions
	case model.MessagePayload:
		return p.Message
	case model.DeferredPayload:
		b, err := json.Marshal(p.Deferred)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

// scriptedExecutor returns scripted verdicts, records them and counts runs.
type scriptedExecutor struct {
	scripts *scripts
	trace   *traceRecorder

	mu       sync.Mutex
	executed map[string]int
}

func (x *scriptedExecutor) IsReadyPrecheck(context.Context, model.Schedule) engine.ReadyResult {
	return engine.ReadyResultReady
}

func (x *scriptedExecutor) IsReady(_ context.Context, p *engine.PreparedSchedule) engine.ReadyResult {
	id := p.Schedule.Identifier
	verdict := x.scripts.next(id, "ready", "ready")
	x.trace.call(id, "ready="+verdict)

	switch verdict {
	case "not_ready":
		return engine.ReadyResultNotReady
	case "skip":
		return engine.ReadyResultSkip
	case "invalidate":
		return engine.ReadyResultInvalidate
	}
	return engine.ReadyResultReady
}

func (x *scriptedExecutor) Execute(_ context.Context, p *engine.PreparedSchedule) engine.ExecuteResult {
	id := p.Schedule.Identifier
	verdict := x.scripts.next(id, "execute", "finished")
	x.trace.call(id, "execute="+verdict)

	x.mu.Lock()
	x.executed[id]++
	x.mu.Unlock()

	switch verdict {
	case "cancel":
		return engine.ExecuteResultCancel
	case "retry":
		return engine.ExecuteResultRetry
	}
	return engine.ExecuteResultFinished
}

func (x *scriptedExecutor) Interrupted(_ context.Context, s model.Schedule, _ model.PreparedInfo) engine.InterruptResult {
	verdict := x.scripts.next(s.Identifier, "interrupted", "finish")
	x.trace.call(s.Identifier, "interrupted="+verdict)
	if verdict == "retry" {
		return engine.InterruptResultRetry
	}
	return engine.InterruptResultFinish
}

func (x *scriptedExecutor) counts() map[string]int {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]int, len(x.executed))
	for id, n := range x.executed {
		out[id] = n
	}
	return out
}

// traceStore records every lifecycle change written through it.
type traceStore struct {
	*store.Store
	trace *traceRecorder
}

func (s *traceStore) UpsertSchedules(ctx context.Context, ids []string, fn func(id string, existing *model.ScheduleData) model.ScheduleData) ([]model.ScheduleData, error) {
	created := make(map[string]bool, len(ids))
	out, err := s.Store.UpsertSchedules(ctx, ids, func(id string, existing *model.ScheduleData) model.ScheduleData {
		created[id] = existing == nil
		return fn(id, existing)
	})
	if err != nil {
		return out, err
	}
	for _, d := range out {
		id := d.Schedule.Identifier
		if created[id] {
			s.trace.state(id, "created")
		} else {
			s.trace.state(id, "updated")
		}
	}
	return out, nil
}

func (s *traceStore) UpdateSchedule(ctx context.Context, id string, fn func(model.ScheduleData) model.ScheduleData) (*model.ScheduleData, error) {
	var from model.ScheduleState
	out, err := s.Store.UpdateSchedule(ctx, id, func(d model.ScheduleData) model.ScheduleData {
		from = d.State
		return fn(d)
	})
	if err == nil && out != nil && out.State != from {
		s.trace.state(id, string(out.State))
	}
	return out, err
}

func (s *traceStore) DeleteSchedules(ctx context.Context, ids []string) error {
	existing, err := s.Store.GetSchedulesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteSchedules(ctx, ids); err != nil {
		return err
	}
	for _, d := range existing {
		s.trace.state(d.Schedule.Identifier, StateDeleted)
	}
	return nil
}

func (s *traceStore) DeleteSchedulesByGroup(ctx context.Context, group string) ([]string, error) {
	ids, err := s.Store.DeleteSchedulesByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.trace.state(id, StateDeleted)
	}
	return ids, nil
}
