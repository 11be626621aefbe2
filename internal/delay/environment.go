package delay

import (
	"sync"
	"time"

	"github.com/roach88/automation/internal/notify"
	"github.com/roach88/automation/internal/trigger"
)

// Environment is the device state delay conditions are checked against.
type Environment interface {
	IsForeground() bool
	CurrentScreen() string
	IsInRegion(regionID string) bool

	// Location is the device time zone used for "local" windows.
	Location() *time.Location
}

// Tracker is an Environment fed from the event stream.
//
// Thread-safety: safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	foreground bool
	screen     string
	regions    map[string]bool
	loc        *time.Location
	notifier   *notify.Notifier
}

// NewTracker creates a tracker in the background state. Every observed
// change is announced on notifier, which may be nil.
func NewTracker(notifier *notify.Notifier) *Tracker {
	return &Tracker{
		regions:  make(map[string]bool),
		loc:      time.Local,
		notifier: notifier,
	}
}

// Observe updates the tracked state from an event.
func (t *Tracker) Observe(ev trigger.Event) {
	t.mu.Lock()
	changed := true
	switch ev.Kind {
	case trigger.EventForeground, trigger.EventAppInit:
		t.foreground = true
	case trigger.EventBackground:
		t.foreground = false
	case trigger.EventScreenView:
		t.screen = ev.Screen
	case trigger.EventRegionEnter:
		t.regions[ev.RegionID] = true
	case trigger.EventRegionExit:
		delete(t.regions, ev.RegionID)
	default:
		changed = false
	}
	t.mu.Unlock()

	if changed && t.notifier != nil {
		t.notifier.Notify()
	}
}

// SetLocation overrides the device time zone.
func (t *Tracker) SetLocation(loc *time.Location) {
	t.mu.Lock()
	t.loc = loc
	t.mu.Unlock()
	if t.notifier != nil {
		t.notifier.Notify()
	}
}

func (t *Tracker) IsForeground() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.foreground
}

func (t *Tracker) CurrentScreen() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.screen
}

func (t *Tracker) IsInRegion(regionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.regions[regionID]
}

func (t *Tracker) Location() *time.Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loc
}
