package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/automation/internal/clock"
	"github.com/roach88/automation/internal/delay"
	"github.com/roach88/automation/internal/notify"
)

// Engine is the automation state machine.
//
// All lifecycle mutations run on a single-writer loop that drains a FIFO
// task queue: trigger results, interval timer fires, API calls, and the
// state writes of schedule pipelines. Each triggered schedule's
// delay → prepare → ready-check → execute pipeline runs in its own
// goroutine and re-validates the persisted state before every mutation,
// aborting silently when it no longer matches.
//
// Thread-safety model:
//   - Public methods: safe from any goroutine; they block until restore
//     has completed
//   - Executor.Execute: at most one call at a time per engine
//   - TriggerProcessor: driven only from the loop
type Engine struct {
	schedules ScheduleStore
	processor *TriggerProcessor
	preparer  Preparer
	executor  Executor
	delays    *delay.Processor
	env       delay.Environment
	clock     clock.Clock
	ids       IDGenerator
	recorder  Recorder
	notifier  *notify.Notifier
	cfg       Config

	queue    *taskQueue
	activity *activity

	enginePaused    atomic.Bool
	executionPaused atomic.Bool

	// execMu serializes executor calls.
	execMu sync.Mutex

	// restoreErr is written before restored is closed.
	restored   chan struct{}
	restoreErr error

	mu        sync.Mutex
	started   bool
	stopped   bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	pipelines map[string]map[uint64]context.CancelFunc
	nextPipe  uint64
	timers    map[string]clock.Timer
	wg        sync.WaitGroup // pipelines
}

// Option allows configuration of engine collaborators and timing.
type Option func(*Engine)

// WithClock sets the clock. Default: clock.System.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithEnvironment sets the device state delays are checked against.
// Default: a delay.Tracker fed by AddEvent. A custom environment must call
// NotifyConditionsChanged when it changes.
func WithEnvironment(env delay.Environment) Option {
	return func(e *Engine) { e.env = env }
}

// WithIDGenerator sets the trigger session id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithRecorder sets the telemetry recorder. Default: no-op.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithConfig sets timing. Zero fields fall back to DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New creates an engine. It does nothing until Start.
func New(schedules ScheduleStore, triggers TriggerStore, preparer Preparer, executor Executor, opts ...Option) *Engine {
	e := &Engine{
		schedules: schedules,
		preparer:  preparer,
		executor:  executor,
		clock:     clock.System{},
		ids:       UUIDv7Generator{},
		recorder:  nopRecorder{},
		notifier:  notify.New(),
		cfg:       DefaultConfig(),
		queue:     newTaskQueue(),
		activity:  newActivity(),
		restored:  make(chan struct{}),
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
		pipelines: make(map[string]map[uint64]context.CancelFunc),
		timers:    make(map[string]clock.Timer),
	}

	for _, opt := range opts {
		opt(e)
	}

	_ = e.cfg.Validate()
	if e.env == nil {
		e.env = delay.NewTracker(e.notifier)
	}
	e.processor = NewTriggerProcessor(triggers, e.clock)
	e.delays = delay.NewProcessor(e.env, e.clock, e.notifier, delay.Options{
		MaxSleep:           e.cfg.DelayMaxSleep,
		InvalidWindowRetry: e.cfg.InvalidWindowRetry,
	})
	return e
}

// Start restores persisted schedules and starts the loop. It returns
// immediately; Restored reports when restore has finished. Cancelling ctx
// stops the engine like Stop without waiting.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	slog.Info("engine starting")

	// Restore is the first task, so no event is processed before it.
	e.enqueue(task{name: "restore", fn: e.restore})
	go e.run()
	return nil
}

// Restored is closed once startup restore has finished.
func (e *Engine) Restored() <-chan struct{} {
	return e.restored
}

// Stop cancels in-flight pipelines and timers and waits up to
// Config.ShutdownTimeout for them to exit. Nothing beyond what was already
// committed to the store is persisted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.stopCh)
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		<-e.loopDone
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("engine stopped")
		return nil
	case <-time.After(e.cfg.ShutdownTimeout):
		return fmt.Errorf("engine stop: in-flight work still running after %s", e.cfg.ShutdownTimeout)
	}
}

// run is the single-writer loop.
func (e *Engine) run() {
	defer close(e.loopDone)

	for {
		if t, ok := e.queue.TryDequeue(); ok {
			e.runTask(t)
			continue
		}

		select {
		case <-e.ctx.Done():
			slog.Info("engine stopping: context cancelled")
			for _, t := range e.queue.Close() {
				if t.done != nil {
					t.done <- errStopped
				}
				e.activity.done()
			}
			return

		case _, ok := <-e.queue.Wait():
			if !ok {
				slog.Info("engine stopping: queue closed")
				return
			}
		}
	}
}

// runTask runs one task on the loop. A failing task never stops the loop.
func (e *Engine) runTask(t task) {
	defer e.activity.done()

	err := e.safeRun(t)
	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil {
		slog.Error("task failed", "task", t.name, "error", err)
	}
}

func (e *Engine) safeRun(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.fn(e.ctx)
}

// enqueue adds a fire-and-forget or awaited task. Returns false once the
// engine has stopped.
func (e *Engine) enqueue(t task) bool {
	e.activity.add()
	if !e.queue.Enqueue(t) {
		e.activity.done()
		return false
	}
	return true
}

// submit runs fn on the loop and waits for its result. It must not be
// called from the loop itself.
func (e *Engine) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if !e.enqueue(task{name: name, fn: fn, done: done}) {
		return errStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitRestored blocks until restore has finished.
func (e *Engine) awaitRestored(ctx context.Context) error {
	select {
	case <-e.stopCh:
		return errStopped
	default:
	}

	select {
	case <-e.restored:
		if e.restoreErr != nil {
			return e.restoreErr
		}
		return nil
	case <-e.stopCh:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch starts the pipeline of a triggered schedule. Called only from
// the loop.
func (e *Engine) dispatch(scheduleID string) {
	ctx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	e.nextPipe++
	key := e.nextPipe
	if e.pipelines[scheduleID] == nil {
		e.pipelines[scheduleID] = make(map[uint64]context.CancelFunc)
	}
	e.pipelines[scheduleID][key] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	e.activity.add()
	go func() {
		defer e.wg.Done()
		defer e.activity.done()
		defer func() {
			e.mu.Lock()
			delete(e.pipelines[scheduleID], key)
			if len(e.pipelines[scheduleID]) == 0 {
				delete(e.pipelines, scheduleID)
			}
			e.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("schedule pipeline panicked", "schedule_id", scheduleID, "panic", r)
			}
		}()

		e.processTriggeredSchedule(ctx, scheduleID)
	}()
}

// cancelPipelines interrupts every in-flight pipeline of the schedules.
func (e *Engine) cancelPipelines(scheduleIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range scheduleIDs {
		for _, cancel := range e.pipelines[id] {
			cancel()
		}
	}
}

// armTimer schedules the end of a PAUSED cooldown. A negative remaining
// interval fires immediately.
func (e *Engine) armTimer(scheduleID string, remaining time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if old, ok := e.timers[scheduleID]; ok {
		old.Stop()
	}
	slog.Debug("interval timer armed", "schedule_id", scheduleID, "remaining", remaining)
	e.timers[scheduleID] = e.clock.AfterFunc(max(remaining, 0), func() {
		e.enqueue(task{
			name: "interval " + scheduleID,
			fn: func(ctx context.Context) error {
				return e.endInterval(ctx, scheduleID)
			},
		})
	})
}

func (e *Engine) stopTimers(scheduleIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range scheduleIDs {
		if t, ok := e.timers[id]; ok {
			t.Stop()
			delete(e.timers, id)
		}
	}
}

// activity counts queued tasks and running pipelines for WaitIdle. A
// parked pipeline is blocked on time or conditions; gen changes on every
// park and unpark.
type activity struct {
	mu     sync.Mutex
	n      int
	parked int
	gen    uint64
	idle   chan struct{}
}

func newActivity() *activity {
	a := &activity{idle: make(chan struct{})}
	close(a.idle)
	return a
}

func (a *activity) add() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		a.idle = make(chan struct{})
	}
	a.n++
	a.gen++
}

func (a *activity) done() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n--
	a.gen++
	if a.n == 0 {
		close(a.idle)
	}
}

func (a *activity) park() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parked++
	a.gen++
}

func (a *activity) unpark() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parked--
	a.gen++
}

func (a *activity) wait() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle
}

func (a *activity) quiescent() (bool, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n == a.parked, a.gen
}
