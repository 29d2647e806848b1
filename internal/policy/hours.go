package policy

import (
	"fmt"
	"time"
)

// BusinessHours is a daily [start, end) window evaluated in the tenant's
// local timezone. Minutes are counted since local midnight.
type BusinessHours struct {
	StartMinutes int
	EndMinutes   int
	location     *time.Location
	valid        bool
}

// ParseBusinessHours builds a window from HH:MM strings and an IANA zone
// name. Any parse failure yields an invalid window, which Within treats as
// always-open: a misconfigured tenant must not silently drop contact
// attempts.
func ParseBusinessHours(start, end, tz string) (BusinessHours, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return BusinessHours{}, fmt.Errorf("policy: load business hours tz: %w", err)
		}
	}
	startMin, err := parseClock(start)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("policy: parse business hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("policy: parse business hours end: %w", err)
	}
	return BusinessHours{
		StartMinutes: startMin,
		EndMinutes:   endMin,
		location:     loc,
		valid:        true,
	}, nil
}

func parseClock(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Within reports whether the given instant falls inside the window,
// inclusive at start and exclusive at end. Invalid windows fail open.
func (b BusinessHours) Within(now time.Time) bool {
	if !b.valid {
		return true
	}
	local := now.In(b.location)
	minutes := local.Hour()*60 + local.Minute()
	if b.StartMinutes == b.EndMinutes {
		return true
	}
	if b.StartMinutes < b.EndMinutes {
		return minutes >= b.StartMinutes && minutes < b.EndMinutes
	}
	// Window crosses midnight.
	return minutes >= b.StartMinutes || minutes < b.EndMinutes
}
