// Package metrics exports engine telemetry as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "automation"

// Recorder counts engine lifecycle events on its own registry.
// It satisfies engine.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	triggersFired *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	prepared      *prometheus.CounterVec
	executed      *prometheus.CounterVec
	deleted       prometheus.Counter
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		triggersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_fired_total",
				Help:      "Number of trigger goals reached",
			},
			[]string{"execution_type"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Number of schedule state transitions",
			},
			[]string{"from", "to"},
		),
		prepared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prepare_results_total",
				Help:      "Number of preparation verdicts by outcome",
			},
			[]string{"outcome"},
		),
		executed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execute_results_total",
				Help:      "Number of execution verdicts by outcome",
			},
			[]string{"outcome"},
		),
		deleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedules_deleted_total",
				Help:      "Number of schedules removed from the store",
			},
		),
	}

	r.registry.MustRegister(r.triggersFired, r.transitions, r.prepared, r.executed, r.deleted)
	return r
}

// TriggerFired counts a trigger reaching its goal.
func (r *Recorder) TriggerFired(executionType string) {
	r.triggersFired.WithLabelValues(executionType).Inc()
}

// Transition counts a state change.
func (r *Recorder) Transition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// Prepared counts a preparation verdict.
func (r *Recorder) Prepared(outcome string) {
	r.prepared.WithLabelValues(outcome).Inc()
}

// Executed counts an execution verdict.
func (r *Recorder) Executed(outcome string) {
	r.executed.WithLabelValues(outcome).Inc()
}

// Deleted counts removed schedules.
func (r *Recorder) Deleted(count int) {
	if count <= 0 {
		return
	}
	r.deleted.Add(float64(count))
}

// Gatherer returns the registry for exposition.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
