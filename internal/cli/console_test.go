package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/engine"
	"github.com/roach88/automation/internal/model"
)

func TestConsolePreparer_UsesSchedulePayload(t *testing.T) {
	s := model.Schedule{
		Identifier: "msg",
		Type:       model.PayloadInAppMessage,
		Message:    json.RawMessage(`{"title":"hi"}`),
	}

	res, err := consolePreparer{}.Prepare(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.PrepareKindPrepared, res.Kind)
	require.NotNil(t, res.Prepared)
	assert.JSONEq(t, `{"title":"hi"}`, string(res.Prepared.Payload))
}

func TestRawPayload_Deferred(t *testing.T) {
	s := model.Schedule{
		Identifier: "later",
		Type:       model.PayloadDeferred,
		Deferred:   &model.Deferred{URL: "https://example.com/p", RetryOnTimeout: true},
	}

	payload, err := rawPayload(s)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"https://example.com/p"`)
}

func TestConsoleExecutor_WritesJSONLine(t *testing.T) {
	buf := &bytes.Buffer{}
	x := newConsoleExecutor(buf)
	at := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return at }

	s := model.Schedule{Identifier: "hello", Group: "greetings", Type: model.PayloadActions}
	assert.Equal(t, engine.ReadyResultReady, x.IsReadyPrecheck(context.Background(), s))

	p := &engine.PreparedSchedule{
		Schedule: s,
		Payload:  json.RawMessage(`{"add_tags":["hello"]}`),
		Info:     model.PreparedInfo{ScheduleID: "hello", TriggerSessionID: "session-1"},
	}
	assert.Equal(t, engine.ReadyResultReady, x.IsReady(context.Background(), p))
	assert.Equal(t, engine.ExecuteResultFinished, x.Execute(context.Background(), p))

	assert.JSONEq(t, `{
		"schedule_id": "hello",
		"group": "greetings",
		"type": "actions",
		"payload": {"add_tags": ["hello"]},
		"trigger_session_id": "session-1",
		"executed_at": "2025-03-04T10:00:00Z"
	}`, buf.String())
}

func TestConsoleExecutor_InterruptedFinishes(t *testing.T) {
	x := newConsoleExecutor(&bytes.Buffer{})
	got := x.Interrupted(context.Background(), model.Schedule{Identifier: "hello"}, model.PreparedInfo{})
	assert.Equal(t, engine.InterruptResultFinish, got)
}
