// Package trigger implements the trigger model: trigger definitions, the
// per-trigger counting state, and evaluation of one event against one
// trigger tree.
//
// Everything in this package is pure. Callers own persistence of Data and
// pass it in for every evaluation.
package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/automation/internal/jsonmatch"
)

// Type is an event trigger type.
type Type string

const (
	TypeForeground             Type = "foreground"
	TypeBackground             Type = "background"
	TypeScreen                 Type = "screen"
	TypeVersion                Type = "version"
	TypeAppInit                Type = "app_init"
	TypeRegionEnter            Type = "region_enter"
	TypeRegionExit             Type = "region_exit"
	TypeCustomEventCount       Type = "custom_event_count"
	TypeCustomEventValue       Type = "custom_event_value"
	TypeFeatureFlagInteraction Type = "feature_flag_interaction"
	TypeActiveSession          Type = "active_session"
)

// Valid reports whether t is a known event trigger type.
func (t Type) Valid() bool {
	switch t {
	case TypeForeground, TypeBackground, TypeScreen, TypeVersion, TypeAppInit,
		TypeRegionEnter, TypeRegionExit, TypeCustomEventCount, TypeCustomEventValue,
		TypeFeatureFlagInteraction, TypeActiveSession:
		return true
	}
	return false
}

// CompoundType is the boolean or sequential policy of a compound trigger.
type CompoundType string

const (
	CompoundAnd   CompoundType = "and"
	CompoundOr    CompoundType = "or"
	CompoundChain CompoundType = "chain"
)

// Valid reports whether t is a known compound type.
func (t CompoundType) Valid() bool {
	return t == CompoundAnd || t == CompoundOr || t == CompoundChain
}

// ExecutionType scopes trigger data. A schedule's execution triggers and its
// delay-cancellation triggers count independently.
type ExecutionType string

const (
	ExecutionTypeExecution         ExecutionType = "execution"
	ExecutionTypeDelayCancellation ExecutionType = "delay_cancellation"
)

// Trigger is either an event trigger or a compound trigger.
// Exactly one of Event and Compound is non-nil.
type Trigger struct {
	Event    *EventTrigger
	Compound *CompoundTrigger
}

// EventTrigger counts matching events of a single type.
type EventTrigger struct {
	ID        string               `json:"id"`
	Type      Type                 `json:"type"`
	Goal      float64              `json:"goal"`
	Predicate *jsonmatch.Predicate `json:"predicate,omitempty"`

	// allowBackfill is set when the id was generated at parse time.
	allowBackfill bool
}

// CompoundTrigger combines child triggers.
type CompoundTrigger struct {
	ID       string       `json:"id"`
	Type     CompoundType `json:"type"`
	Goal     float64      `json:"goal"`
	Children []Child      `json:"children"`

	allowBackfill bool
}

// Child is a compound trigger's child with its reset policy.
type Child struct {
	Trigger          Trigger `json:"trigger"`
	IsSticky         bool    `json:"is_sticky,omitempty"`
	ResetOnIncrement bool    `json:"reset_on_increment,omitempty"`
}

// NewEvent returns an event trigger. An empty id is replaced by a random
// one that BackfillIdentifier may later replace, as when decoding.
func NewEvent(id string, typ Type, goal float64, predicate *jsonmatch.Predicate) Trigger {
	e := &EventTrigger{ID: id, Type: typ, Goal: goal, Predicate: predicate}
	if id == "" {
		e.ID = uuid.NewString()
		e.allowBackfill = true
	}
	return Trigger{Event: e}
}

// NewCompound returns a compound trigger. An empty id is handled as in
// NewEvent.
func NewCompound(id string, typ CompoundType, goal float64, children ...Child) Trigger {
	c := &CompoundTrigger{ID: id, Type: typ, Goal: goal, Children: children}
	if id == "" {
		c.ID = uuid.NewString()
		c.allowBackfill = true
	}
	return Trigger{Compound: c}
}

// ID returns the trigger identifier.
func (t Trigger) ID() string {
	switch {
	case t.Event != nil:
		return t.Event.ID
	case t.Compound != nil:
		return t.Compound.ID
	}
	return ""
}

// Goal returns the count at which the trigger fires.
func (t Trigger) Goal() float64 {
	switch {
	case t.Event != nil:
		return t.Event.Goal
	case t.Compound != nil:
		return t.Compound.Goal
	}
	return 0
}

// TypeName returns the wire type of the trigger.
func (t Trigger) TypeName() string {
	switch {
	case t.Event != nil:
		return string(t.Event.Type)
	case t.Compound != nil:
		return string(t.Compound.Type)
	}
	return ""
}

// Validate checks the trigger tree.
func (t Trigger) Validate() error {
	switch {
	case t.Event != nil && t.Compound != nil:
		return errors.New("trigger: both event and compound set")
	case t.Event != nil:
		e := t.Event
		if e.ID == "" {
			return errors.New("trigger: missing id")
		}
		if !e.Type.Valid() {
			return fmt.Errorf("trigger %s: unknown type %q", e.ID, e.Type)
		}
		if e.Goal <= 0 {
			return fmt.Errorf("trigger %s: goal must be positive", e.ID)
		}
		if err := e.Predicate.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", e.ID, err)
		}
		return nil
	case t.Compound != nil:
		c := t.Compound
		if c.ID == "" {
			return errors.New("trigger: missing id")
		}
		if !c.Type.Valid() {
			return fmt.Errorf("trigger %s: unknown compound type %q", c.ID, c.Type)
		}
		if c.Goal <= 0 {
			return fmt.Errorf("trigger %s: goal must be positive", c.ID)
		}
		if len(c.Children) == 0 {
			return fmt.Errorf("trigger %s: compound trigger has no children", c.ID)
		}
		seen := make(map[string]bool, len(c.Children))
		for i, child := range c.Children {
			if err := child.Trigger.Validate(); err != nil {
				return fmt.Errorf("trigger %s: children[%d]: %w", c.ID, i, err)
			}
			id := child.Trigger.ID()
			if seen[id] {
				return fmt.Errorf("trigger %s: duplicate child id %q", c.ID, id)
			}
			seen[id] = true
		}
		return nil
	}
	return errors.New("trigger: empty trigger")
}

// MarshalJSON encodes the active variant.
func (t Trigger) MarshalJSON() ([]byte, error) {
	switch {
	case t.Event != nil:
		return json.Marshal(t.Event)
	case t.Compound != nil:
		return json.Marshal(t.Compound)
	}
	return []byte("null"), nil
}

// UnmarshalJSON selects the variant from the "type" field. A trigger without
// an id is given a random one that BackfillIdentifier may later replace.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Trigger{}
		return nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}

	if CompoundType(head.Type).Valid() {
		var c CompoundTrigger
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("compound trigger: %w", err)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
			c.allowBackfill = true
		}
		*t = Trigger{Compound: &c}
		return nil
	}

	var e EventTrigger
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("event trigger: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
		e.allowBackfill = true
	}
	*t = Trigger{Event: &e}
	return nil
}
