// Package delay gates a triggered schedule on time, screen, region, app
// state and execution-window conditions.
package delay

import (
	"fmt"
	"time"

	"github.com/roach88/automation/internal/trigger"
	"github.com/roach88/automation/internal/window"
)

// AppState is a required foreground/background state.
type AppState string

const (
	AppStateForeground AppState = "foreground"
	AppStateBackground AppState = "background"
)

// Delay is the set of conditions a triggered schedule waits on.
type Delay struct {
	Seconds              int64             `json:"seconds,omitempty"`
	Screens              []string          `json:"screens,omitempty"`
	RegionID             string            `json:"region_id,omitempty"`
	AppState             AppState          `json:"app_state,omitempty"`
	Window               *window.Window    `json:"execution_window,omitempty"`
	CancellationTriggers []trigger.Trigger `json:"cancellation_triggers,omitempty"`
}

// Duration returns the time-based part of the delay.
func (d *Delay) Duration() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(d.Seconds) * time.Second
}

// Validate checks the delay definition.
func (d *Delay) Validate() error {
	if d == nil {
		return nil
	}
	if d.Seconds < 0 {
		return fmt.Errorf("delay: negative seconds %d", d.Seconds)
	}
	switch d.AppState {
	case "", AppStateForeground, AppStateBackground:
	default:
		return fmt.Errorf("delay: unknown app_state %q", d.AppState)
	}
	if err := d.Window.Validate(); err != nil {
		return fmt.Errorf("delay: %w", err)
	}
	for i, tr := range d.CancellationTriggers {
		if err := tr.Validate(); err != nil {
			return fmt.Errorf("delay: cancellation_triggers[%d]: %w", i, err)
		}
	}
	return nil
}
