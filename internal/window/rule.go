package window

import (
	"slices"
	"time"
)

// span is a half-open time range [start, end).
type span struct {
	start, end time.Time
}

func (s span) contains(t time.Time) bool {
	return !t.Before(s.start) && t.Before(s.end)
}

// searchDays bounds how far ahead a rule is searched. Monthly rules need
// eight years to reach the next 29th of February across a skipped leap year.
func (r Rule) searchDays() int {
	switch r.Type {
	case Daily:
		return 2
	case Weekly:
		return 8
	}
	return 366 * 8
}

// next returns the first range of r that ends after now, or nil when the
// rule never matches within the search horizon.
func (r Rule) next(now time.Time, local *time.Location) (*span, error) {
	loc, err := r.TimeZone.resolve(local)
	if err != nil {
		return nil, err
	}

	t := now.In(loc)
	y, m, d := t.Date()
	// Start a day back so a range wrapping past midnight is still seen.
	for i := -1; i <= r.searchDays(); i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if !r.matchesDay(day) {
			continue
		}
		s := r.spanOn(day)
		if s.end.After(now) {
			return &s, nil
		}
	}
	return nil, nil
}

func (r Rule) matchesDay(day time.Time) bool {
	switch r.Type {
	case Daily:
		return true
	case Weekly:
		return slices.Contains(r.DaysOfWeek, isoWeekday(day))
	case Monthly:
		if len(r.Months) > 0 && !slices.Contains(r.Months, int(day.Month())) {
			return false
		}
		if len(r.DaysOfMonth) > 0 && !slices.Contains(r.DaysOfMonth, day.Day()) {
			return false
		}
		return true
	}
	return false
}

func (r Rule) spanOn(day time.Time) span {
	y, m, d := day.Date()
	loc := day.Location()
	if r.TimeRange == nil {
		return span{start: day, end: time.Date(y, m, d+1, 0, 0, 0, 0, loc)}
	}
	tr := r.TimeRange
	start := time.Date(y, m, d, tr.StartHour, tr.StartMinute, 0, 0, loc)
	end := time.Date(y, m, d, tr.EndHour, tr.EndMinute, 0, 0, loc)
	if !end.After(start) {
		end = time.Date(y, m, d+1, tr.EndHour, tr.EndMinute, 0, 0, loc)
	}
	return span{start: start, end: end}
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
