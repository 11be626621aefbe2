package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/store"
	"github.com/roach88/automation/internal/testutil"
	"github.com/roach88/automation/internal/trigger"
)

var testNow = time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordingStore remembers every state a schedule passed through.
type recordingStore struct {
	*store.Store
	mu     sync.Mutex
	states map[string][]model.ScheduleState
	last   map[string]model.ScheduleData
}

func newRecordingStore(s *store.Store) *recordingStore {
	return &recordingStore{
		Store:  s,
		states: make(map[string][]model.ScheduleState),
		last:   make(map[string]model.ScheduleData),
	}
}

func (r *recordingStore) UpdateSchedule(ctx context.Context, id string, fn func(model.ScheduleData) model.ScheduleData) (*model.ScheduleData, error) {
	out, err := r.Store.UpdateSchedule(ctx, id, fn)
	if out != nil {
		r.mu.Lock()
		seen := r.states[id]
		if len(seen) == 0 || seen[len(seen)-1] != out.State {
			r.states[id] = append(seen, out.State)
		}
		r.last[id] = *out
		r.mu.Unlock()
	}
	return out, err
}

func (r *recordingStore) statesOf(id string) []model.ScheduleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ScheduleState(nil), r.states[id]...)
}

func (r *recordingStore) lastOf(id string) model.ScheduleData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[id]
}

type prepareStep struct {
	result PrepareResult
	err    error
}

// fakePreparer returns queued steps, then Prepared.
type fakePreparer struct {
	mu        sync.Mutex
	steps     []prepareStep
	calls     []string
	cancelled []string
}

func (p *fakePreparer) Prepare(_ context.Context, s model.Schedule, _ *trigger.Context) (PrepareResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, s.Identifier)
	if len(p.steps) > 0 {
		step := p.steps[0]
		p.steps = p.steps[1:]
		return step.result, step.err
	}
	return Prepared(&PreparedSchedule{Payload: s.Actions}), nil
}

func (p *fakePreparer) Cancelled(_ context.Context, s model.Schedule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, s.Identifier)
}

func (p *fakePreparer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeExecutor returns queued verdicts, then READY and FINISHED.
type fakeExecutor struct {
	mu          sync.Mutex
	ready       []ReadyResult
	results     []ExecuteResult
	interrupt   InterruptResult
	executed    []string
	interrupted []string
}

func (x *fakeExecutor) IsReadyPrecheck(context.Context, model.Schedule) ReadyResult {
	return ReadyResultReady
}

func (x *fakeExecutor) IsReady(context.Context, *PreparedSchedule) ReadyResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.ready) > 0 {
		r := x.ready[0]
		x.ready = x.ready[1:]
		return r
	}
	return ReadyResultReady
}

func (x *fakeExecutor) Execute(_ context.Context, p *PreparedSchedule) ExecuteResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.executed = append(x.executed, p.Schedule.Identifier)
	if len(x.results) > 0 {
		r := x.results[0]
		x.results = x.results[1:]
		return r
	}
	return ExecuteResultFinished
}

func (x *fakeExecutor) Interrupted(_ context.Context, s model.Schedule, _ model.PreparedInfo) InterruptResult {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.interrupted = append(x.interrupted, s.Identifier)
	if x.interrupt == 0 {
		return InterruptResultFinish
	}
	return x.interrupt
}

func (x *fakeExecutor) executedIDs() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.executed...)
}

// fakeRecorder counts telemetry calls.
type fakeRecorder struct {
	mu          sync.Mutex
	fired       map[string]int
	transitions []string
	deleted     int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{fired: make(map[string]int)}
}

func (r *fakeRecorder) TriggerFired(execType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired[execType]++
}

func (r *fakeRecorder) Transition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *fakeRecorder) Prepared(string) {}
func (r *fakeRecorder) Executed(string) {}

func (r *fakeRecorder) Deleted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted += n
}

// harness bundles an engine with its fakes.
type harness struct {
	engine   *Engine
	store    *recordingStore
	clock    *testutil.FakeClock
	preparer *fakePreparer
	executor *fakeExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		store:    newRecordingStore(setupTestStore(t)),
		clock:    testutil.NewFakeClock(testNow),
		preparer: &fakePreparer{},
		executor: &fakeExecutor{},
	}
}

// start creates and starts the engine and waits for restore.
func (h *harness) start(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(h.clock),
		WithIDGenerator(testutil.NewSequenceIDGenerator("session")),
	}
	h.engine = New(h.store, h.store.Store, h.preparer, h.executor, append(base, opts...)...)
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(func() { h.engine.Stop() })

	select {
	case <-h.engine.Restored():
	case <-time.After(5 * time.Second):
		t.Fatal("restore did not finish")
	}
	return h.engine
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.WaitIdle(ctx))
}

func (h *harness) event(t *testing.T, ev trigger.Event) {
	t.Helper()
	require.NoError(t, h.engine.AddEvent(context.Background(), ev))
	h.waitIdle(t)
}

func (h *harness) stored(t *testing.T, id string) *model.ScheduleData {
	t.Helper()
	d, err := h.store.GetSchedule(context.Background(), id)
	require.NoError(t, err)
	return d
}

// blockUntilWaiting waits until n clock timers are pending.
func (h *harness) blockUntilWaiting(t *testing.T, n int) {
	t.Helper()
	require.True(t, h.clock.BlockUntil(n, 5*time.Second), "expected %d pending timers", n)
}

func actionsSchedule(id string, triggers ...trigger.Trigger) model.Schedule {
	return model.Schedule{
		Identifier: id,
		Triggers:   triggers,
		Type:       model.PayloadActions,
		Actions:    json.RawMessage(`{"add_tags":["seen"]}`),
	}
}

func foreground(id string, goal float64) trigger.Trigger {
	return trigger.NewEvent(id, trigger.TypeForeground, goal, nil)
}

var (
	foregroundEvent = trigger.Event{Kind: trigger.EventForeground}
	backgroundEvent = trigger.Event{Kind: trigger.EventBackground}
)
