// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func init() {
	Register("weekly", newWeekly)
}

// Weekly records on a fixed set of weekdays at a fixed time of day.
type Weekly struct {
	weekdays []time.Weekday
	start    time.Duration // offset from local midnight
	duration time.Duration
}

// NewWeekly builds a weekly schedule. weekdays must be non-empty and
// duration positive.
func NewWeekly(weekdays []time.Weekday, start, duration time.Duration) (*Weekly, error) {
	if len(weekdays) == 0 {
		return nil, fmt.Errorf("no weekdays defined in schedule")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive")
	}
	return &Weekly{weekdays: weekdays, start: start, duration: duration}, nil
}

// NextOccurrence scans forward from today's local midnight. A listed weekday
// whose widened window has already passed is skipped, so a show added after
// today's slot rolls to the following week.
func (w *Weekly) NextOccurrence(now time.Time, leeway time.Duration) (time.Time, time.Duration, bool) {
	if leeway < 0 {
		leeway = 0
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for offset := 0; offset <= 7; offset++ {
		day := midnight.AddDate(0, 0, offset)
		if !w.onDay(day.Weekday()) {
			continue
		}
		start := day.Add(w.start)
		widenedEnd := start.Add(w.duration + leeway)
		if widenedEnd.After(now) {
			return start.Add(-leeway), w.duration + 2*leeway, true
		}
	}
	return time.Time{}, 0, false
}

func (w *Weekly) onDay(d time.Weekday) bool {
	for _, wd := range w.weekdays {
		if wd == d {
			return true
		}
	}
	return false
}

func newWeekly(cfg map[string]any) (Schedule, error) {
	days, err := configWeekdays(cfg)
	if err != nil {
		return nil, err
	}

	rawStart, ok := cfg["start"]
	if !ok {
		return nil, fmt.Errorf("no start time defined in schedule")
	}
	start, err := ParseTimeOfDay(rawStart)
	if err != nil {
		return nil, fmt.Errorf("invalid start time: %w", err)
	}

	var duration time.Duration
	if rawEnd, ok := cfg["end"]; ok {
		end, err := ParseTimeOfDay(rawEnd)
		if err != nil {
			return nil, fmt.Errorf("invalid end time: %w", err)
		}
		if end < start {
			// The show ends on the following day.
			end += 24 * time.Hour
		}
		duration = end - start
	} else if rawDuration, ok := cfg["duration"]; ok {
		duration, err = ParseTimeOfDay(rawDuration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
	} else {
		return nil, fmt.Errorf("no duration or end time defined in schedule")
	}

	return NewWeekly(days, start, duration)
}

func configWeekdays(cfg map[string]any) ([]time.Weekday, error) {
	raw, ok := cfg["weekdays"]
	if !ok {
		raw, ok = cfg["weekday"]
	}
	if !ok || raw == nil {
		return nil, fmt.Errorf("no weekdays defined in schedule")
	}

	var names []string
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			names = append(names, strings.TrimSpace(part))
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("weekday entries must be strings, got %T", item)
			}
			names = append(names, s)
		}
	default:
		return nil, fmt.Errorf("weekdays must be a list or a comma-separated string")
	}

	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays defined in schedule")
	}
	return days, nil
}

// weekdayPrefixes maps the shortest unambiguous prefix of an English weekday
// name to the weekday. Longer prefixes are checked first so "Tu" does not
// shadow "Th".
var weekdayPrefixes = []struct {
	prefix string
	day    time.Weekday
}{
	{"Tu", time.Tuesday},
	{"Th", time.Thursday},
	{"Sa", time.Saturday},
	{"Su", time.Sunday},
	{"M", time.Monday},
	{"W", time.Wednesday},
	{"F", time.Friday},
}

// ParseWeekday resolves an English weekday name or abbreviation.
func ParseWeekday(name string) (time.Weekday, error) {
	trimmed := strings.TrimSpace(name)
	for _, entry := range weekdayPrefixes {
		if strings.HasPrefix(trimmed, entry.prefix) {
			return entry.day, nil
		}
	}
	return 0, fmt.Errorf("invalid day of the week %q", name)
}

// ParseTimeOfDay accepts either a number of seconds or a clock string.
// Strings use "[H:]M:S": two segments are minutes and seconds, three are
// hours, minutes and seconds.
func ParseTimeOfDay(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		return parseClockString(v)
	default:
		return 0, fmt.Errorf("time of day must be seconds or a [H:]M:S string, got %T", raw)
	}
}

func parseClockString(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	values := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		values[i] = n
	}

	var total time.Duration
	for _, n := range values {
		total = total*60 + time.Duration(n)*time.Second
	}
	return total, nil
}
