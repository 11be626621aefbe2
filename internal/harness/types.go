package harness

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/automation/internal/model"
)

// StepTrace is what happened to each schedule during one step.
type StepTrace struct {
	Label string `json:"label"`

	// States lists lifecycle changes per schedule: the state entered, or
	// created, updated and deleted.
	States map[string][]string `json:"states,omitempty"`

	// Calls lists collaborator verdicts per schedule, e.g. prepare=skip.
	Calls map[string][]string `json:"calls,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Name string `json:"name"`

	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Steps holds the setup trace at index 0, then one entry per step.
	Steps []StepTrace `json:"steps"`

	// Executions counts executor runs per schedule.
	Executions map[string]int `json:"executions"`

	// Final is every stored record after the last step, in restore order.
	Final []model.ScheduleData `json:"final"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:       name,
		Pass:       true,
		Steps:      []StepTrace{},
		Executions: make(map[string]int),
		Errors:     []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// History returns every lifecycle change of a schedule across all steps.
func (r *Result) History(scheduleID string) []string {
	var out []string
	for _, st := range r.Steps {
		out = append(out, st.States[scheduleID]...)
	}
	return out
}

// FinalRecord returns the stored record of a schedule, or nil if it was
// deleted.
func (r *Result) FinalRecord(scheduleID string) *model.ScheduleData {
	for i := range r.Final {
		if r.Final[i].Schedule.Identifier == scheduleID {
			return &r.Final[i]
		}
	}
	return nil
}

// Format renders the trace as stable text for golden comparison.
func (r *Result) Format() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Name)
	for i, st := range r.Steps {
		fmt.Fprintf(&b, "[%d] %s\n", i, st.Label)
		for _, id := range scheduleIDs(st.States, st.Calls) {
			if states := st.States[id]; len(states) > 0 {
				fmt.Fprintf(&b, "  %s: %s\n", id, strings.Join(states, " "))
			}
			if calls := st.Calls[id]; len(calls) > 0 {
				fmt.Fprintf(&b, "  %s calls: %s\n", id, strings.Join(calls, " "))
			}
		}
	}
	b.WriteString("final:\n")
	for _, d := range r.Final {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	return []byte(b.String())
}

func scheduleIDs(maps ...map[string][]string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range maps {
		for id := range m {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// traceRecorder collects changes into the current step. Engine goroutines
// write to it concurrently.
type traceRecorder struct {
	mu     sync.Mutex
	result *Result
}

func (t *traceRecorder) beginStep(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Steps = append(t.result.Steps, StepTrace{
		Label:  label,
		States: make(map[string][]string),
		Calls:  make(map[string][]string),
	})
}

func (t *traceRecorder) state(scheduleID, change string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &t.result.Steps[len(t.result.Steps)-1]
	st.States[scheduleID] = append(st.States[scheduleID], change)
}

func (t *traceRecorder) call(scheduleID, verdict string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &t.result.Steps[len(t.result.Steps)-1]
	st.Calls[scheduleID] = append(st.Calls[scheduleID], verdict)
}
