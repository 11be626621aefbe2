package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/automation/internal/clock"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

// TriggerResult reports that a schedule's top-level trigger fired.
type TriggerResult struct {
	ScheduleID    string
	ExecutionType trigger.ExecutionType
	Context       trigger.Context
	Date          time.Time
}

type trackedSchedule struct {
	schedule model.Schedule
	state    model.ScheduleState
}

// TriggerProcessor evaluates events against the trigger trees of tracked
// schedules and owns the trigger store.
//
// Execution triggers are evaluated while a schedule is IDLE and
// delay-cancellation triggers while it is TRIGGERED. Each kind counts in
// its own trigger rows keyed by execution type, so the two sets may share
// trigger ids.
//
// Thread-safety: safe for concurrent use via internal mutex. The engine
// calls it only from its run loop, so events are evaluated in arrival
// order.
type TriggerProcessor struct {
	mu        sync.Mutex
	store     TriggerStore
	clock     clock.Clock
	schedules map[string]*trackedSchedule
	order     []string
	cached    *trigger.TriggerableState
}

// NewTriggerProcessor creates a processor with no tracked schedules.
func NewTriggerProcessor(st TriggerStore, clk clock.Clock) *TriggerProcessor {
	return &TriggerProcessor{
		store:     st,
		clock:     clk,
		schedules: make(map[string]*trackedSchedule),
	}
}

// RestoreSchedules replaces the tracked set with records and reconciles
// persisted trigger state against the current definitions: rows for
// unknown triggers or schedules are deleted and stale children pruned.
// No results are emitted.
func (p *TriggerProcessor) RestoreSchedules(ctx context.Context, records []model.ScheduleData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.schedules = make(map[string]*trackedSchedule, len(records))
	p.order = p.order[:0]

	ids := make([]string, 0, len(records))
	for _, r := range records {
		p.track(r)
		ids = append(ids, r.Schedule.Identifier)
		if err := p.reconcile(ctx, r.Schedule); err != nil {
			return err
		}
	}
	p.sortOrder()

	if err := p.store.DeleteTriggersExcluding(ctx, ids); err != nil {
		return fmt.Errorf("restore triggers: %w", err)
	}
	return nil
}

// UpdateSchedules starts tracking new records or replaces the definitions
// of tracked ones, pruning trigger state the new definitions no longer use.
func (p *TriggerProcessor) UpdateSchedules(ctx context.Context, records []model.ScheduleData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range records {
		p.track(r)
		if err := p.reconcile(ctx, r.Schedule); err != nil {
			return err
		}
	}
	p.sortOrder()
	return nil
}

// UpdateScheduleState records a lifecycle change so the right trigger set
// is evaluated. Entering TRIGGERED clears delay-cancellation progress.
func (p *TriggerProcessor) UpdateScheduleState(ctx context.Context, scheduleID string, state model.ScheduleState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.schedules[scheduleID]
	if !ok {
		return nil
	}
	prev := ts.state
	ts.state = state
	if state != model.StateTriggered || prev == model.StateTriggered {
		return nil
	}

	cancellation := cancellationTriggers(ts.schedule)
	if len(cancellation) == 0 {
		return nil
	}
	ids := make([]string, len(cancellation))
	for i, tr := range cancellation {
		ids[i] = tr.ID()
	}
	if err := p.store.DeleteTriggersFor(ctx, scheduleID, trigger.ExecutionTypeDelayCancellation, ids); err != nil {
		return fmt.Errorf("reset cancellation triggers of %s: %w", scheduleID, err)
	}
	return nil
}

// Cancel stops tracking the schedules and deletes their trigger state.
func (p *TriggerProcessor) Cancel(ctx context.Context, scheduleIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelLocked(ctx, scheduleIDs)
}

// CancelGroup cancels every tracked schedule in group.
func (p *TriggerProcessor) CancelGroup(ctx context.Context, group string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []string
	for _, id := range p.order {
		if p.schedules[id].schedule.Group == group {
			ids = append(ids, id)
		}
	}
	return p.cancelLocked(ctx, ids)
}

func (p *TriggerProcessor) cancelLocked(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	for _, id := range scheduleIDs {
		delete(p.schedules, id)
	}
	p.order = slices.DeleteFunc(p.order, func(id string) bool {
		return slices.Contains(scheduleIDs, id)
	})
	if err := p.store.DeleteTriggers(ctx, scheduleIDs); err != nil {
		return fmt.Errorf("cancel triggers: %w", err)
	}
	return nil
}

// ProcessEvent evaluates ev against every active tracked schedule and
// returns one result per schedule whose trigger fired. A failure on one
// schedule is logged and does not stop evaluation of the others; the
// joined errors are returned alongside the results.
func (p *TriggerProcessor) ProcessEvent(ctx context.Context, ev trigger.Event) ([]TriggerResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Kind == trigger.EventStateChanged && ev.State != nil {
		s := *ev.State
		p.cached = &s
	}

	now := p.clock.Now()
	var results []TriggerResult
	var errs []error
	for _, id := range p.order {
		ts := p.schedules[id]
		if !ts.schedule.IsInActiveWindow(now) {
			continue
		}

		var triggers []trigger.Trigger
		var execType trigger.ExecutionType
		switch ts.state {
		case model.StateIdle:
			triggers, execType = ts.schedule.Triggers, trigger.ExecutionTypeExecution
		case model.StateTriggered:
			triggers, execType = cancellationTriggers(ts.schedule), trigger.ExecutionTypeDelayCancellation
		}
		if len(triggers) == 0 {
			continue
		}

		res, err := p.evaluate(ctx, id, triggers, execType, ev, now)
		if err != nil {
			slog.Error("trigger evaluation failed", "schedule_id", id, "event", ev.Kind, "error", err)
			errs = append(errs, fmt.Errorf("schedule %s: %w", id, err))
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, errors.Join(errs...)
}

// evaluate matches ev against one schedule's triggers and persists every
// counter the event touched in one write.
func (p *TriggerProcessor) evaluate(
	ctx context.Context,
	scheduleID string,
	triggers []trigger.Trigger,
	execType trigger.ExecutionType,
	ev trigger.Event,
	now time.Time,
) (*TriggerResult, error) {
	var changed []*trigger.Data
	var fired *TriggerResult

	for _, tr := range triggers {
		data, err := p.store.GetTrigger(ctx, scheduleID, execType, tr.ID())
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = trigger.NewScopedData(scheduleID, execType, tr.ID())
		}
		before := data.Clone()

		match := tr.Match(ev, data, trigger.MatchOptions{
			ResetOnTrigger: true,
			CachedState:    p.cached,
		})
		if match != nil || !reflect.DeepEqual(before, data) {
			changed = append(changed, data)
		}
		if match == nil || !match.IsTriggered || fired != nil {
			continue
		}

		slog.Debug("trigger fired",
			"schedule_id", scheduleID,
			"trigger_id", tr.ID(),
			"execution_type", execType,
		)
		fired = &TriggerResult{
			ScheduleID:    scheduleID,
			ExecutionType: execType,
			Context: trigger.Context{
				Type:  tr.TypeName(),
				Goal:  tr.Goal(),
				Event: ev,
			},
			Date: now,
		}
	}

	if err := p.store.UpsertTriggers(ctx, changed); err != nil {
		return nil, err
	}
	return fired, nil
}

// reconcile deletes trigger rows the schedule no longer defines and prunes
// stale children from the rest.
func (p *TriggerProcessor) reconcile(ctx context.Context, s model.Schedule) error {
	defined := map[trigger.ExecutionType]map[string]trigger.Trigger{
		trigger.ExecutionTypeExecution:         byID(s.Triggers),
		trigger.ExecutionTypeDelayCancellation: byID(cancellationTriggers(s)),
	}

	rows, err := p.store.GetTriggers(ctx, s.Identifier)
	if err != nil {
		return fmt.Errorf("load triggers of %s: %w", s.Identifier, err)
	}

	stale := make(map[trigger.ExecutionType][]string)
	var pruned []*trigger.Data
	for _, data := range rows {
		scope := data.Scope()
		tr, ok := defined[scope][data.TriggerID]
		if !ok {
			stale[scope] = append(stale[scope], data.TriggerID)
			continue
		}
		before := data.Clone()
		tr.Prune(data)
		if !reflect.DeepEqual(before, data) {
			pruned = append(pruned, data)
		}
	}

	for scope, ids := range stale {
		if err := p.store.DeleteTriggersFor(ctx, s.Identifier, scope, ids); err != nil {
			return fmt.Errorf("delete stale triggers of %s: %w", s.Identifier, err)
		}
	}
	if err := p.store.UpsertTriggers(ctx, pruned); err != nil {
		return fmt.Errorf("prune triggers of %s: %w", s.Identifier, err)
	}
	return nil
}

func byID(triggers []trigger.Trigger) map[string]trigger.Trigger {
	out := make(map[string]trigger.Trigger, len(triggers))
	for _, tr := range triggers {
		out[tr.ID()] = tr
	}
	return out
}

// track expects p.mu held. Callers sort afterwards.
func (p *TriggerProcessor) track(r model.ScheduleData) {
	id := r.Schedule.Identifier
	if _, ok := p.schedules[id]; !ok {
		p.order = append(p.order, id)
	}
	p.schedules[id] = &trackedSchedule{schedule: r.Schedule, state: r.State}
}

func (p *TriggerProcessor) sortOrder() {
	slices.SortStableFunc(p.order, func(a, b string) int {
		return compareSchedules(p.schedules[a].schedule, p.schedules[b].schedule)
	})
}

// compareSchedules is the deterministic restore order: priority, then
// creation time, then identifier.
func compareSchedules(a, b model.Schedule) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := a.Created.Compare(b.Created); c != 0 {
		return c
	}
	return strings.Compare(a.Identifier, b.Identifier)
}

func cancellationTriggers(s model.Schedule) []trigger.Trigger {
	if s.Delay == nil {
		return nil
	}
	return s.Delay.CancellationTriggers
}
