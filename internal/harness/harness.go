package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/automation/internal/engine"
	"github.com/roach88/automation/internal/store"
	"github.com/roach88/automation/internal/testutil"
)

const (
	settleTimeout = 5 * time.Second
	settlePoll    = 5 * time.Millisecond
	settleRounds  = 3
)

// Harness runs one scenario against a real engine.
type Harness struct {
	scenario  *Scenario
	store     *store.Store
	schedules *traceStore
	clock     *testutil.FakeClock
	ids       *testutil.SequenceIDGenerator
	preparer  *scriptedPreparer
	executor  *scriptedExecutor
	engine    *engine.Engine
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh SQLite database in a temporary
// directory. Execution flow:
//  1. Start the engine and upsert the scenario's schedules (step 0, "setup")
//  2. Execute each step, waiting for the engine to settle after it
//  3. Snapshot the stored records and executor counts
//  4. Evaluate assertions
//
// An error means the scenario could not be run; assertion failures are
// reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "automation-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	result := NewResult(scenario.Name)
	trace := &traceRecorder{result: result}
	sc := newScripts(scenario.Script)

	h := &Harness{
		scenario:  scenario,
		store:     st,
		schedules: &traceStore{Store: st, trace: trace},
		clock:     testutil.NewFakeClock(scenario.start),
		ids:       testutil.NewSequenceIDGenerator("session"),
		preparer:  &scriptedPreparer{scripts: sc, trace: trace},
		executor:  &scriptedExecutor{scripts: sc, trace: trace, executed: make(map[string]int)},
	}

	ctx := context.Background()

	trace.beginStep("setup")
	if err := h.startEngine(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = h.engine.Stop() }()

	if err := h.engine.UpsertSchedules(ctx, scenario.compiled); err != nil {
		return nil, fmt.Errorf("failed to upsert schedules: %w", err)
	}
	if err := h.settle(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	for i, step := range scenario.Steps {
		trace.beginStep(step.Label())
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Label(), err)
		}
		if err := h.settle(); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Label(), err)
		}
	}

	final, err := st.GetSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final
	result.Executions = h.executor.counts()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// startEngine creates an engine over the harness store and waits for its
// restore to finish.
func (h *Harness) startEngine(ctx context.Context) error {
	h.engine = engine.New(h.schedules, h.store, h.preparer, h.executor,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
	)
	if err := h.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	select {
	case <-h.engine.Restored():
	case <-time.After(settleTimeout):
		return fmt.Errorf("engine did not restore within %s", settleTimeout)
	}
	return h.settle()
}

// executeStep performs one step.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	e := h.engine
	switch {
	case step.Event != nil:
		ev, err := step.Event.toEvent()
		if err != nil {
			return err
		}
		return e.AddEvent(ctx, ev)
	case step.Advance != "":
		h.clock.Advance(step.advance)
	case step.Notify:
		e.NotifyConditionsChanged()
	case step.PauseEngine != nil:
		e.SetEnginePaused(*step.PauseEngine)
	case step.PauseExecution != nil:
		e.SetExecutionPaused(*step.PauseExecution)
	case step.Upsert.Kind != 0:
		return e.UpsertSchedules(ctx, step.upserted)
	case len(step.Cancel) > 0:
		return e.CancelSchedules(ctx, step.Cancel)
	case step.CancelGroup != "":
		return e.CancelSchedulesByGroup(ctx, step.CancelGroup)
	case len(step.Stop) > 0:
		return e.StopSchedules(ctx, step.Stop)
	case step.Restart:
		if err := e.Stop(); err != nil {
			return err
		}
		return h.startEngine(ctx)
	}
	return nil
}

// settle waits until the engine stays quiescent for several polls in a
// row. Timer callbacks and woken pipelines show up as activity changes
// within that window.
func (h *Harness) settle() error {
	deadline := time.Now().Add(settleTimeout)
	var last uint64
	stable := 0
	for {
		ok, gen := h.engine.Quiescent()
		if ok && gen == last {
			stable++
		} else {
			stable = 0
		}
		last = gen
		if stable >= settleRounds {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine did not settle within %s", settleTimeout)
		}
		time.Sleep(settlePoll)
	}
}
