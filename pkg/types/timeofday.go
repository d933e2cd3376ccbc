package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay returns the TimeOfDay for the given hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// TimeOfDayOf returns the wall-clock time of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

// ParseTimeOfDay parses "15:04" or "15:04:05". Seconds are dropped.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return TimeOfDayOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day: %q", s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Valid reports whether t falls within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

// String formats the time as "15:04".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Kitchen formats the time as "3:04 PM".
func (t TimeOfDay) Kitchen() string {
	return time.Date(2000, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC).Format("3:04 PM")
}

// On returns the instant at which t occurs on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// InWindow reports whether now is inside [start, end). When start >= end the
// window wraps midnight.
func InWindow(now, start, end TimeOfDay) bool {
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// Weekdays is a set of days, kept sorted Monday first.
type Weekdays []time.Weekday

// NewWeekdays returns a deduplicated, Monday-first set of the given days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	seen := make(map[time.Weekday]bool, len(days))
	out := make(Weekdays, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return mondayFirst(out[i]) < mondayFirst(out[j])
	})
	return out
}

// EveryDay is Monday through Sunday.
var EveryDay = NewWeekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday)

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Contains reports whether d is part of the set.
func (w Weekdays) Contains(d time.Weekday) bool {
	for _, day := range w {
		if day == d {
			return true
		}
	}
	return false
}

// Equal compares two sets regardless of order.
func (w Weekdays) Equal(o Weekdays) bool {
	a, b := NewWeekdays(w...), NewWeekdays(o...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String returns "Monday, Tuesday" style text, or "None" for an empty set.
func (w Weekdays) String() string {
	if len(w) == 0 {
		return "None"
	}
	names := make([]string, 0, len(w))
	for _, d := range NewWeekdays(w...) {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

// Abbreviations returns the three letter upper-case day names, e.g. "MON".
func (w Weekdays) Abbreviations() []string {
	out := make([]string, 0, len(w))
	for _, d := range NewWeekdays(w...) {
		out = append(out, strings.ToUpper(d.String()[:3]))
	}
	return out
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(w))
	for _, d := range NewWeekdays(w...) {
		names = append(names, strings.ToUpper(d.String()))
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	days := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return err
		}
		days = append(days, d)
	}
	*w = NewWeekdays(days...)
	return nil
}

// ParseWeekday accepts full or three letter day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			name := strings.ToLower(d.String())
			if s == name || s == name[:3] {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid day of week: %q", s)
}
