// Package mode decides whether the network is open or gated and keeps the
// router in step with that decision.
package mode

import (
	"fmt"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Schedule is the daily night window. Offsets are wall-clock times of day
// in Location; a window whose end is earlier than its start wraps past
// midnight.
type Schedule struct {
	NightStart time.Duration
	NightEnd   time.Duration
	Location   *time.Location
}

// DefaultSchedule is 21:00 to 05:00 local time.
func DefaultSchedule() Schedule {
	return Schedule{NightStart: 21 * time.Hour, NightEnd: 5 * time.Hour, Location: time.Local}
}

// ParseSchedule builds a Schedule from "HH:MM" strings and an IANA zone
// name ("" or "Local" for the host zone).
func ParseSchedule(start, end, zone string) (Schedule, error) {
	s := Schedule{}
	var err error
	if s.NightStart, err = parseClock(start); err != nil {
		return Schedule{}, fmt.Errorf("night_start: %w", err)
	}
	if s.NightEnd, err = parseClock(end); err != nil {
		return Schedule{}, fmt.Errorf("night_end: %w", err)
	}
	if s.NightStart == s.NightEnd {
		return Schedule{}, fmt.Errorf("night_start and night_end must differ")
	}
	switch zone {
	case "", "Local":
		s.Location = time.Local
	default:
		if s.Location, err = time.LoadLocation(zone); err != nil {
			return Schedule{}, fmt.Errorf("timezone: %w", err)
		}
	}
	return s, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s Schedule) loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// on returns the instant at offset on t's calendar day, shifted by days.
// Built with time.Date so DST days keep their wall-clock boundaries.
func (s Schedule) on(t time.Time, days int, offset time.Duration) time.Time {
	t = t.In(s.loc())
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(t.Year(), t.Month(), t.Day()+days, h, m, 0, 0, s.loc())
}

// ModeAt returns the scheduled mode at t.
func (s Schedule) ModeAt(t time.Time) model.Mode {
	start, end := s.on(t, 0, s.NightStart), s.on(t, 0, s.NightEnd)
	var night bool
	if s.NightStart < s.NightEnd {
		night = !t.Before(start) && t.Before(end)
	} else {
		night = !t.Before(start) || t.Before(end)
	}
	if night {
		return model.ModeGatekeeper
	}
	return model.ModeOpen
}

// NextBoundary returns the first window edge strictly after t.
func (s Schedule) NextBoundary(t time.Time) time.Time {
	var best time.Time
	for days := 0; days <= 1; days++ {
		for _, off := range []time.Duration{s.NightStart, s.NightEnd} {
			b := s.on(t, days, off)
			if b.After(t) && (best.IsZero() || b.Before(best)) {
				best = b
			}
		}
	}
	return best
}

// NextNightStart returns the first night start strictly after t.
func (s Schedule) NextNightStart(t time.Time) time.Time {
	b := s.on(t, 0, s.NightStart)
	if !b.After(t) {
		b = s.on(t, 1, s.NightStart)
	}
	return b
}

// LastNightStart returns the latest night start at or before t.
func (s Schedule) LastNightStart(t time.Time) time.Time {
	b := s.on(t, 0, s.NightStart)
	if b.After(t) {
		b = s.on(t, -1, s.NightStart)
	}
	return b
}
