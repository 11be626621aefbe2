// Package window evaluates execution windows: recurring calendar rules that
// gate when a triggered schedule may run.
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeZoneUnresolved is returned when a rule's time zone cannot be
// resolved and the rule asks for an error rather than being skipped.
var ErrTimeZoneUnresolved = errors.New("window: time zone unresolved")

// ErrNeverAvailable is returned when include rules exist but none of them
// can ever produce a range (for example the 30th of February).
var ErrNeverAvailable = errors.New("window: include rules never match")

// minRetry is the smallest retry ever returned.
const minRetry = time.Second

// Window is a set of include and exclude rules. With no include rules the
// window is always open except where an exclude rule applies.
type Window struct {
	Include []Rule `json:"include,omitempty"`
	Exclude []Rule `json:"exclude,omitempty"`
}

// RuleType selects the recurrence of a rule.
type RuleType string

const (
	Daily   RuleType = "daily"
	Weekly  RuleType = "weekly"
	Monthly RuleType = "monthly"
)

// Rule is a recurring availability range.
//
// Weekly rules use ISO weekdays (1 Monday through 7 Sunday). Monthly rules
// match a day when it is in Months (if set) and in DaysOfMonth (if set).
type Rule struct {
	Type        RuleType   `json:"type"`
	TimeRange   *TimeRange `json:"time_range,omitempty"`
	DaysOfWeek  []int      `json:"days_of_week,omitempty"`
	Months      []int      `json:"months,omitempty"`
	DaysOfMonth []int      `json:"days_of_month,omitempty"`
	TimeZone    *TimeZone  `json:"time_zone,omitempty"`
}

// TimeRange is a time-of-day range. An end at or before the start wraps
// past midnight.
type TimeRange struct {
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

// Availability is the result of evaluating a window: either now, or retry
// after a duration.
type Availability struct {
	retry time.Duration
}

// Now returns an availability that is open now.
func Now() Availability { return Availability{} }

// RetryAfter returns an availability that opens after d (at least one second).
func RetryAfter(d time.Duration) Availability {
	if d < minRetry {
		d = minRetry
	}
	return Availability{retry: d}
}

// IsNow reports whether the window is open now.
func (a Availability) IsNow() bool { return a.retry == 0 }

// Retry returns how long to wait. Zero when IsNow.
func (a Availability) Retry() time.Duration { return a.retry }

func (a Availability) String() string {
	if a.IsNow() {
		return "now"
	}
	return "retry " + a.retry.String()
}

// Validate checks rule fields are in range.
func (w *Window) Validate() error {
	if w == nil {
		return nil
	}
	for i, r := range w.Include {
		if err := r.validate(); err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
	}
	for i, r := range w.Exclude {
		if err := r.validate(); err != nil {
			return fmt.Errorf("exclude[%d]: %w", i, err)
		}
	}
	return nil
}

func (r Rule) validate() error {
	switch r.Type {
	case Daily:
	case Weekly:
		if len(r.DaysOfWeek) == 0 {
			return errors.New("weekly rule needs days_of_week")
		}
	case Monthly:
		if len(r.Months) == 0 && len(r.DaysOfMonth) == 0 {
			return errors.New("monthly rule needs months or days_of_month")
		}
	default:
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	for _, d := range r.DaysOfWeek {
		if d < 1 || d > 7 {
			return fmt.Errorf("day of week %d out of range", d)
		}
	}
	for _, m := range r.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("month %d out of range", m)
		}
	}
	for _, d := range r.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("day of month %d out of range", d)
		}
	}
	if tr := r.TimeRange; tr != nil {
		if !validClock(tr.StartHour, tr.StartMinute) || !validClock(tr.EndHour, tr.EndMinute) {
			return errors.New("time range out of range")
		}
	}
	if r.TimeZone != nil {
		return r.TimeZone.validate()
	}
	return nil
}

func validClock(h, m int) bool {
	return h >= 0 && h < 24 && m >= 0 && m < 60
}

// NextAvailability evaluates the window at now. local overrides the device
// zone used by "local" time zones and by rules without a time zone.
//
// An exclude range containing now wins: the result is a retry until its end.
// Otherwise the include range with the earliest start decides: now if it
// has started, else a retry until it starts. A rule without a time range
// covers whole matching days, so a weekly or monthly rule still waits for
// its next matching day.
func (w *Window) NextAvailability(now time.Time, local *time.Location) (Availability, error) {
	if w == nil {
		return Now(), nil
	}
	if local == nil {
		local = time.Local
	}

	var exclude *span
	for _, r := range w.Exclude {
		s, err := r.next(now, local)
		if errors.Is(err, errSkipRule) {
			continue
		}
		if err != nil {
			return Availability{}, err
		}
		if s == nil || !s.contains(now) {
			continue
		}
		if exclude == nil || s.end.Before(exclude.end) {
			exclude = s
		}
	}
	if exclude != nil {
		return RetryAfter(exclude.end.Sub(now)), nil
	}

	var include *span
	resolved := 0
	for _, r := range w.Include {
		s, err := r.next(now, local)
		if errors.Is(err, errSkipRule) {
			continue
		}
		if err != nil {
			return Availability{}, err
		}
		resolved++
		if s == nil {
			continue
		}
		if include == nil || s.start.Before(include.start) {
			include = s
		}
	}
	switch {
	case include == nil && resolved > 0:
		return Availability{}, ErrNeverAvailable
	case include == nil, include.contains(now):
		return Now(), nil
	}
	return RetryAfter(include.start.Sub(now)), nil
}
