// Package model defines automation schedules and their persisted lifecycle
// records.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/automation/internal/canonical"
	"github.com/roach88/automation/internal/delay"
	"github.com/roach88/automation/internal/trigger"
)

// PayloadType is the kind of work a schedule performs.
type PayloadType string

const (
	PayloadActions      PayloadType = "actions"
	PayloadInAppMessage PayloadType = "in_app_message"
	PayloadDeferred     PayloadType = "deferred"
)

// MissBehavior is what happens when the audience check fails.
type MissBehavior string

const (
	MissCancel   MissBehavior = "cancel"
	MissSkip     MissBehavior = "skip"
	MissPenalize MissBehavior = "penalize"
)

// Audience is an opaque audience selector evaluated by the preparer.
type Audience struct {
	Selector     json.RawMessage `json:"selector"`
	MissBehavior MissBehavior    `json:"miss_behavior,omitempty"`
}

// Deferred points at a payload resolved at prepare time.
type Deferred struct {
	URL            string      `json:"url"`
	RetryOnTimeout bool        `json:"retry_on_timeout,omitempty"`
	Type           PayloadType `json:"type"`
}

// Schedule is an immutable automation definition.
type Schedule struct {
	Identifier string            `json:"id"`
	Triggers   []trigger.Trigger `json:"triggers"`
	Group      string            `json:"group,omitempty"`
	Priority   int               `json:"priority,omitempty"`

	// Limit is the number of fulfillments allowed. Zero means unlimited.
	Limit int `json:"limit,omitempty"`

	StartDate *time.Time `json:"start,omitempty"`
	EndDate   *time.Time `json:"end,omitempty"`

	Audience         *Audience `json:"audience,omitempty"`
	CompoundAudience *Audience `json:"compound_audience,omitempty"`

	Delay *delay.Delay `json:"delay,omitempty"`

	// Interval is the cooldown in seconds after each fulfillment.
	Interval int64 `json:"interval,omitempty"`

	Type     PayloadType     `json:"type"`
	Actions  json.RawMessage `json:"actions,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Deferred *Deferred       `json:"deferred,omitempty"`

	FrequencyConstraintIDs []string  `json:"frequency_constraint_ids,omitempty"`
	Created                time.Time `json:"created"`
	MinSDKVersion          string    `json:"min_sdk_version,omitempty"`
}

// Payload is the schedule's work: ActionsPayload, MessagePayload or
// DeferredPayload.
type Payload interface {
	payloadType() PayloadType
}

type ActionsPayload struct{ Actions json.RawMessage }
type MessagePayload struct{ Message json.RawMessage }
type DeferredPayload struct{ Deferred Deferred }

func (ActionsPayload) payloadType() PayloadType  { return PayloadActions }
func (MessagePayload) payloadType() PayloadType  { return PayloadInAppMessage }
func (DeferredPayload) payloadType() PayloadType { return PayloadDeferred }

// Payload returns the typed payload, or nil if Type is unknown.
func (s Schedule) Payload() Payload {
	switch s.Type {
	case PayloadActions:
		return ActionsPayload{Actions: s.Actions}
	case PayloadInAppMessage:
		return MessagePayload{Message: s.Message}
	case PayloadDeferred:
		if s.Deferred == nil {
			return nil
		}
		return DeferredPayload{Deferred: *s.Deferred}
	}
	return nil
}

// IntervalDuration returns Interval as a duration.
func (s Schedule) IntervalDuration() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// Validate checks the definition is complete and consistent.
func (s Schedule) Validate() error {
	if s.Identifier == "" {
		return errors.New("schedule: missing id")
	}
	if len(s.Triggers) == 0 {
		return fmt.Errorf("schedule %s: no triggers", s.Identifier)
	}
	seen := make(map[string]bool, len(s.Triggers))
	for i, tr := range s.Triggers {
		if err := tr.Validate(); err != nil {
			return fmt.Errorf("schedule %s: triggers[%d]: %w", s.Identifier, i, err)
		}
		if seen[tr.ID()] {
			return fmt.Errorf("schedule %s: duplicate trigger id %q", s.Identifier, tr.ID())
		}
		seen[tr.ID()] = true
	}
	if s.Limit < 0 {
		return fmt.Errorf("schedule %s: negative limit", s.Identifier)
	}
	if s.Interval < 0 {
		return fmt.Errorf("schedule %s: negative interval", s.Identifier)
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return fmt.Errorf("schedule %s: end before start", s.Identifier)
	}
	if err := s.Delay.Validate(); err != nil {
		return fmt.Errorf("schedule %s: %w", s.Identifier, err)
	}
	switch p := s.Payload().(type) {
	case ActionsPayload:
		if len(p.Actions) == 0 {
			return fmt.Errorf("schedule %s: actions payload is empty", s.Identifier)
		}
	case MessagePayload:
		if len(p.Message) == 0 {
			return fmt.Errorf("schedule %s: message payload is empty", s.Identifier)
		}
	case DeferredPayload:
		if p.Deferred.URL == "" {
			return fmt.Errorf("schedule %s: deferred payload has no url", s.Identifier)
		}
	case nil:
		return fmt.Errorf("schedule %s: unknown or incomplete payload type %q", s.Identifier, s.Type)
	}
	return nil
}

// BackfillTriggerIDs freezes content-derived ids for triggers parsed
// without one. Execution and delay-cancellation triggers hash differently.
// An id-less trigger identical to an earlier one is dropped, since both
// would count in the same row.
func (s *Schedule) BackfillTriggerIDs() error {
	triggers, err := backfillAll(s.Triggers, trigger.ExecutionTypeExecution)
	if err != nil {
		return err
	}
	s.Triggers = triggers
	if s.Delay != nil {
		cancellation, err := backfillAll(s.Delay.CancellationTriggers, trigger.ExecutionTypeDelayCancellation)
		if err != nil {
			return err
		}
		d := *s.Delay
		d.CancellationTriggers = cancellation
		s.Delay = &d
	}
	return nil
}

func backfillAll(triggers []trigger.Trigger, execType trigger.ExecutionType) ([]trigger.Trigger, error) {
	if len(triggers) == 0 {
		return triggers, nil
	}
	out := make([]trigger.Trigger, 0, len(triggers))
	seen := make(map[string]bool, len(triggers))
	for _, tr := range triggers {
		pending := !tr.Backfilled()
		if err := tr.BackfillIdentifier(execType); err != nil {
			return nil, err
		}
		if pending && seen[tr.ID()] {
			continue
		}
		seen[tr.ID()] = true
		out = append(out, tr)
	}
	return out, nil
}

// Fingerprint returns a digest of the definition used to detect changes.
func (s Schedule) Fingerprint() (string, error) {
	return canonical.Fingerprint(canonical.DomainSchedule, s)
}

// IsInActiveWindow reports whether now is within [StartDate, EndDate).
func (s Schedule) IsInActiveWindow(now time.Time) bool {
	if s.StartDate != nil && now.Before(*s.StartDate) {
		return false
	}
	return !s.IsExpired(now)
}

// IsExpired reports whether the end date has passed.
func (s Schedule) IsExpired(now time.Time) bool {
	return s.EndDate != nil && !now.Before(*s.EndDate)
}
