package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/automation/internal/compiler"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

// DefaultStart is the fake clock's starting time when a scenario sets none.
var DefaultStart = time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC)

// Scenario defines an end-to-end engine run.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 time the fake clock starts at.
	Start string `yaml:"start,omitempty"`

	// Schedules are upserted before the first step. Same format as a
	// compiler document's schedules list.
	Schedules yaml.Node `yaml:"schedules"`

	// Script holds collaborator verdicts per schedule id.
	Script map[string]Script `yaml:"script,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	// Source is the file the scenario was loaded from, used in errors.
	Source string `yaml:"-"`

	compiled []model.Schedule
	start    time.Time
}

// Script lists verdicts returned in order for one schedule. When a list is
// used up the harness returns prepared, ready, finished and finish.
type Script struct {
	// Prepare: prepared, skip, penalize, cancel, invalidate, error.
	Prepare []string `yaml:"prepare,omitempty"`

	// Ready: ready, not_ready, skip, invalidate.
	Ready []string `yaml:"ready,omitempty"`

	// Execute: finished, cancel, retry.
	Execute []string `yaml:"execute,omitempty"`

	// Interrupted: retry, finish.
	Interrupted []string `yaml:"interrupted,omitempty"`
}

var (
	prepareVerdicts     = []string{"prepared", "skip", "penalize", "cancel", "invalidate", "error"}
	readyVerdicts       = []string{"ready", "not_ready", "skip", "invalidate"}
	executeVerdicts     = []string{"finished", "cancel", "retry"}
	interruptedVerdicts = []string{"retry", "finish"}
)

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Event          *EventStep `yaml:"event,omitempty"`
	Advance        string     `yaml:"advance,omitempty"`
	Notify         bool       `yaml:"notify,omitempty"`
	PauseEngine    *bool      `yaml:"pause_engine,omitempty"`
	PauseExecution *bool      `yaml:"pause_execution,omitempty"`
	Upsert         yaml.Node  `yaml:"upsert,omitempty"`
	Cancel         []string   `yaml:"cancel,omitempty"`
	CancelGroup    string     `yaml:"cancel_group,omitempty"`
	Stop           []string   `yaml:"stop,omitempty"`
	Restart        bool       `yaml:"restart,omitempty"`

	advance  time.Duration
	upserted []model.Schedule
}

// EventStep describes an event fed to the engine.
type EventStep struct {
	Kind           string         `yaml:"kind"`
	Data           map[string]any `yaml:"data,omitempty"`
	Value          *float64       `yaml:"value,omitempty"`
	Screen         string         `yaml:"screen,omitempty"`
	RegionID       string         `yaml:"region_id,omitempty"`
	AppSessionID   string         `yaml:"app_session_id,omitempty"`
	VersionUpdated string         `yaml:"version_updated,omitempty"`
}

var eventKinds = []trigger.EventKind{
	trigger.EventForeground,
	trigger.EventBackground,
	trigger.EventAppInit,
	trigger.EventScreenView,
	trigger.EventRegionEnter,
	trigger.EventRegionExit,
	trigger.EventCustom,
	trigger.EventFeatureFlagInteraction,
	trigger.EventStateChanged,
}

// toEvent builds the engine event.
func (e EventStep) toEvent() (trigger.Event, error) {
	kind := trigger.EventKind(e.Kind)
	if !slices.Contains(eventKinds, kind) {
		return trigger.Event{}, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	ev := trigger.Event{
		Kind:     kind,
		Value:    e.Value,
		Screen:   e.Screen,
		RegionID: e.RegionID,
	}
	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return trigger.Event{}, fmt.Errorf("event data: %w", err)
		}
		ev.Data = data
	}
	if e.AppSessionID != "" || e.VersionUpdated != "" {
		ev.State = &trigger.TriggerableState{
			AppSessionID:   e.AppSessionID,
			VersionUpdated: e.VersionUpdated,
		}
	}
	return ev, nil
}

// Label describes the step in traces and errors.
func (s Step) Label() string {
	switch {
	case s.Event != nil:
		label := "event " + s.Event.Kind
		for _, extra := range []string{s.Event.Screen, s.Event.RegionID, s.Event.AppSessionID, s.Event.VersionUpdated} {
			if extra != "" {
				label += " " + extra
			}
		}
		return label
	case s.Advance != "":
		return "advance " + s.Advance
	case s.Notify:
		return "notify"
	case s.PauseEngine != nil:
		return fmt.Sprintf("pause_engine %t", *s.PauseEngine)
	case s.PauseExecution != nil:
		return fmt.Sprintf("pause_execution %t", *s.PauseExecution)
	case s.Upsert.Kind != 0:
		ids := make([]string, 0, len(s.upserted))
		for _, sch := range s.upserted {
			ids = append(ids, sch.Identifier)
		}
		return "upsert " + strings.Join(ids, ",")
	case len(s.Cancel) > 0:
		return "cancel " + strings.Join(s.Cancel, ",")
	case s.CancelGroup != "":
		return "cancel_group " + s.CancelGroup
	case len(s.Stop) > 0:
		return "stop " + strings.Join(s.Stop, ",")
	case s.Restart:
		return "restart"
	}
	return "empty"
}

func (s Step) actionCount() int {
	n := 0
	for _, set := range []bool{
		s.Event != nil,
		s.Advance != "",
		s.Notify,
		s.PauseEngine != nil,
		s.PauseExecution != nil,
		s.Upsert.Kind != 0,
		len(s.Cancel) > 0,
		s.CancelGroup != "",
		len(s.Stop) > 0,
		s.Restart,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion type constants.
const (
	AssertState      = "state"
	AssertExecutions = "executions"
	AssertHistory    = "history"
)

// StateDeleted is the state assertion value for a removed schedule.
const StateDeleted = "deleted"

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type is state, executions or history.
	Type string `yaml:"type"`

	Schedule string `yaml:"schedule"`

	// State is the expected stored state, or "deleted" (state).
	State string `yaml:"state,omitempty"`

	// ExecutionCount is the expected stored fulfillment count (state).
	ExecutionCount *int `yaml:"execution_count,omitempty"`

	// Count is the expected number of executor runs (executions).
	Count *int `yaml:"count,omitempty"`

	// History is the expected full list of lifecycle changes (history).
	History []string `yaml:"history,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}
	scenario.Source = path
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML. name is used in
// schedule compile errors.
func ParseScenario(name string, data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.Source = name

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Validate checks required fields and compiles every schedule.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	s.start = DefaultStart
	if s.Start != "" {
		start, err := time.Parse(time.RFC3339, s.Start)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		s.start = start
	}

	if s.Schedules.Kind == 0 {
		return fmt.Errorf("schedules is required")
	}
	compiled, err := compileSchedules(s.Source, &s.Schedules)
	if err != nil {
		return fmt.Errorf("schedules: %w", err)
	}
	s.compiled = compiled

	for id, script := range s.Script {
		if err := script.validate(); err != nil {
			return fmt.Errorf("script[%s]: %w", id, err)
		}
	}

	for i := range s.Steps {
		if err := s.Steps[i].validate(s.Source); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) validate(source string) error {
	switch n := s.actionCount(); {
	case n == 0:
		return fmt.Errorf("step has no action")
	case n > 1:
		return fmt.Errorf("step sets %d actions, want exactly one", n)
	}

	switch {
	case s.Event != nil:
		if _, err := s.Event.toEvent(); err != nil {
			return err
		}
	case s.Advance != "":
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("advance must be positive, got %s", s.Advance)
		}
		s.advance = d
	case s.Upsert.Kind != 0:
		compiled, err := compileSchedules(source, &s.Upsert)
		if err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		s.upserted = compiled
	}
	return nil
}

func (s Script) validate() error {
	lists := []struct {
		name    string
		got     []string
		allowed []string
	}{
		{"prepare", s.Prepare, prepareVerdicts},
		{"ready", s.Ready, readyVerdicts},
		{"execute", s.Execute, executeVerdicts},
		{"interrupted", s.Interrupted, interruptedVerdicts},
	}
	for _, l := range lists {
		for i, v := range l.got {
			if !slices.Contains(l.allowed, v) {
				return fmt.Errorf("%s[%d]: unknown verdict %q, want one of %v", l.name, i, v, l.allowed)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Schedule == "" {
		return fmt.Errorf("assertions[%d]: schedule is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for state", index)
		}
		if a.State != StateDeleted && !model.ScheduleState(a.State).Valid() {
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	case AssertExecutions:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for executions", index)
		}
	case AssertHistory:
		if len(a.History) == 0 {
			return fmt.Errorf("assertions[%d]: history list is required for history", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// compileSchedules wraps a schedules sequence in a document and compiles
// it with the schedule schema.
func compileSchedules(source string, schedules *yaml.Node) ([]model.Schedule, error) {
	if schedules.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("must be a list of schedules")
	}
	doc := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "schedules"},
			schedules,
		},
	}
	src, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = "scenario.yaml"
	}
	return compiler.Compile(source, src)
}
