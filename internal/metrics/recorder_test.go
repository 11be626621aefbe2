package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.TriggerFired("execution")
	r.TriggerFired("execution")
	r.TriggerFired("delay_cancellation")
	r.Transition("idle", "triggered")
	r.Prepared("prepared")
	r.Executed("finished")
	r.Executed("retry")
	r.Deleted(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.triggersFired.WithLabelValues("execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.triggersFired.WithLabelValues("delay_cancellation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("idle", "triggered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.prepared.WithLabelValues("prepared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executed.WithLabelValues("retry")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.deleted))
}

func TestRecorder_DeletedIgnoresNonPositive(t *testing.T) {
	r := NewRecorder()
	r.Deleted(0)
	r.Deleted(-2)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.deleted))
}

func TestRecorder_Gatherer(t *testing.T) {
	r := NewRecorder()
	r.Transition("triggered", "prepared")

	count, err := testutil.GatherAndCount(r.Gatherer(), "automation_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.Executed("finished")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `automation_execute_results_total{outcome="finished"} 1`))
}
