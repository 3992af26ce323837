package utils

import (
	"fmt"
	"math"
	"time"
	_ "time/tzdata"
)

// ScheduledInstant resolves a wall-clock date (YYYY-MM-DD) and time (HH:MM)
// in the named zone to an instant.
func ScheduledInstant(date, clock, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q %q: %w", date, clock, err)
	}
	return t, nil
}

// LateMinutes returns the whole minutes elapsed since scheduled, rounded up,
// and whether now is strictly after scheduled.
func LateMinutes(scheduled, now time.Time) (int, bool) {
	if !now.After(scheduled) {
		return 0, false
	}
	return int(math.Ceil(now.Sub(scheduled).Minutes())), true
}

// ValidDate and ValidClock accept only the zero-padded forms, which sort
// correctly as text.
func ValidDate(s string) bool {
	return canonical("2006-01-02", s)
}

func ValidClock(s string) bool {
	return canonical("15:04", s)
}

func canonical(layout, s string) bool {
	t, err := time.Parse(layout, s)
	return err == nil && t.Format(layout) == s
}
