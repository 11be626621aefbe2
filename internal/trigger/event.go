package trigger

import "encoding/json"

// EventKind identifies an application event.
type EventKind string

const (
	EventForeground             EventKind = "foreground"
	EventBackground             EventKind = "background"
	EventAppInit                EventKind = "app_init"
	EventScreenView             EventKind = "screen_view"
	EventRegionEnter            EventKind = "region_enter"
	EventRegionExit             EventKind = "region_exit"
	EventCustom                 EventKind = "custom_event"
	EventFeatureFlagInteraction EventKind = "feature_flag_interaction"
	EventStateChanged           EventKind = "state_changed"
)

// Event is one value from the event feed.
type Event struct {
	Kind EventKind `json:"kind"`

	// Data is the JSON payload predicates are applied to.
	Data json.RawMessage `json:"data,omitempty"`

	// Value is the custom event value. Missing means 1.
	Value *float64 `json:"value,omitempty"`

	Screen   string            `json:"screen,omitempty"`
	RegionID string            `json:"region_id,omitempty"`
	State    *TriggerableState `json:"state,omitempty"`
}

// TriggerableState is the app state edge-triggered types compare against.
type TriggerableState struct {
	AppSessionID   string `json:"app_session_id,omitempty"`
	VersionUpdated string `json:"version_updated,omitempty"`
}

// StateChanged returns a state-changed event for s.
func StateChanged(s TriggerableState) Event {
	return Event{Kind: EventStateChanged, State: &s}
}

// Context describes the trigger and event that fired a schedule.
type Context struct {
	Type  string  `json:"type"`
	Goal  float64 `json:"goal"`
	Event Event   `json:"event"`
}

// predicatePayload returns the JSON a trigger predicate is applied to.
func (e Event) predicatePayload() []byte {
	switch e.Kind {
	case EventScreenView:
		return jsonString(e.Screen)
	case EventRegionEnter, EventRegionExit:
		if len(e.Data) > 0 {
			return e.Data
		}
		return jsonString(e.RegionID)
	case EventStateChanged:
		if e.State != nil {
			return jsonString(e.State.VersionUpdated)
		}
		return nil
	}
	return e.Data
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
