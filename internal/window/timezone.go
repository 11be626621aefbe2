package window

import (
	"errors"
	"fmt"
	"time"
)

// TimeZoneType selects how a rule's zone is resolved.
type TimeZoneType string

const (
	TimeZoneUTC         TimeZoneType = "utc"
	TimeZoneLocal       TimeZoneType = "local"
	TimeZoneIdentifiers TimeZoneType = "identifiers"
)

// FailureMode is what happens when no identifier resolves.
type FailureMode string

const (
	FailureError FailureMode = "error"
	FailureSkip  FailureMode = "skip"
)

// TimeZone is a rule's zone. Identifiers are tried in order, then the
// fixed fallback offset, then OnFailure applies (default error).
type TimeZone struct {
	Type                   TimeZoneType `json:"type"`
	Identifiers            []string     `json:"identifiers,omitempty"`
	FallbackSecondsFromUTC *int         `json:"fallback_seconds_from_utc,omitempty"`
	OnFailure              FailureMode  `json:"on_failure,omitempty"`
}

// errSkipRule marks a rule dropped by FailureSkip.
var errSkipRule = errors.New("window: rule skipped")

func (tz *TimeZone) validate() error {
	switch tz.Type {
	case TimeZoneUTC, TimeZoneLocal:
	case TimeZoneIdentifiers:
		if len(tz.Identifiers) == 0 && tz.FallbackSecondsFromUTC == nil {
			return errors.New("identifiers time zone needs identifiers or a fallback")
		}
	default:
		return fmt.Errorf("unknown time zone type %q", tz.Type)
	}
	switch tz.OnFailure {
	case "", FailureError, FailureSkip:
	default:
		return fmt.Errorf("unknown on_failure %q", tz.OnFailure)
	}
	return nil
}

// resolve returns the location for tz. A nil zone means local.
func (tz *TimeZone) resolve(local *time.Location) (*time.Location, error) {
	if tz == nil {
		return local, nil
	}
	switch tz.Type {
	case TimeZoneUTC:
		return time.UTC, nil
	case TimeZoneLocal:
		return local, nil
	case TimeZoneIdentifiers:
		for _, id := range tz.Identifiers {
			if loc, err := time.LoadLocation(id); err == nil {
				return loc, nil
			}
		}
		if tz.FallbackSecondsFromUTC != nil {
			return time.FixedZone("", *tz.FallbackSecondsFromUTC), nil
		}
		if tz.OnFailure == FailureSkip {
			return nil, errSkipRule
		}
		return nil, fmt.Errorf("%w: %v", ErrTimeZoneUnresolved, tz.Identifiers)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrTimeZoneUnresolved, tz.Type)
}
