package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/automation/internal/engine"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

// consolePreparer prepares every schedule with its own payload.
type consolePreparer struct{}

func (consolePreparer) Prepare(_ context.Context, s model.Schedule, _ *trigger.Context) (engine.PrepareResult, error) {
	payload, err := rawPayload(s)
	if err != nil {
		return engine.PrepareResult{}, err
	}
	return engine.Prepared(&engine.PreparedSchedule{Payload: payload}), nil
}

func (consolePreparer) Cancelled(_ context.Context, s model.Schedule) {
	slog.Info("schedule preparation cancelled", "schedule_id", s.Identifier)
}

// rawPayload returns the JSON the executor emits for s.
func rawPayload(s model.Schedule) (json.RawMessage, error) {
	switch p := s.Payload().(type) {
	case model.ActionsPayload:
		return p.Actions, nil
	case model.MessagePayload:
		return p.Message, nil
	case model.DeferredPayload:
		return json.Marshal(p.Deferred)
	}
	return nil, nil
}

// Execution is one line written by the run command per executed schedule.
type Execution struct {
	ScheduleID string          `json:"schedule_id"`
	Group      string          `json:"group,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SessionID  string          `json:"trigger_session_id"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// consoleExecutor writes each execution as a JSON line and reports it
// finished. A failed write is logged, not retried.
type consoleExecutor struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newConsoleExecutor(w io.Writer) *consoleExecutor {
	return &consoleExecutor{enc: json.NewEncoder(w), now: time.Now}
}

func (x *consoleExecutor) IsReadyPrecheck(context.Context, model.Schedule) engine.ReadyResult {
	return engine.ReadyResultReady
}

func (x *consoleExecutor) IsReady(context.Context, *engine.PreparedSchedule) engine.ReadyResult {
	return engine.ReadyResultReady
}

func (x *consoleExecutor) Execute(_ context.Context, p *engine.PreparedSchedule) engine.ExecuteResult {
	x.mu.Lock()
	defer x.mu.Unlock()

	err := x.enc.Encode(Execution{
		ScheduleID: p.Schedule.Identifier,
		Group:      p.Schedule.Group,
		Type:       string(p.Schedule.Type),
		Payload:    p.Payload,
		SessionID:  p.Info.TriggerSessionID,
		ExecutedAt: x.now().UTC(),
	})
	if err != nil {
		slog.Error("failed to write execution", "schedule_id", p.Schedule.Identifier, "error", err)
	}
	return engine.ExecuteResultFinished
}

func (x *consoleExecutor) Interrupted(_ context.Context, s model.Schedule, _ model.PreparedInfo) engine.InterruptResult {
	slog.Warn("execution interrupted by restart, not repeating", "schedule_id", s.Identifier)
	return engine.InterruptResultFinish
}
