package timeutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock converts "HH:MM" into its integer HHMM encoding (09:30 -> 930).
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format, expected HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour: %s", parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute: %s", parts[1])
	}
	return hour*100 + minute, nil
}

// ClockInt encodes the wall-clock part of t as an integer HHMM.
func ClockInt(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}

// WithinWindow reports whether now (HHMM) falls inside [start, end] inclusive.
func WithinWindow(now, start, end int) bool {
	return now >= start && now <= end
}

// MatchesWeekday reports whether a schedule key names the given weekday.
// Keys are matched by case-insensitive abbreviated prefix, so "mon",
// "Mon" and "monday" all match time.Monday. Keys shorter than three
// characters are rejected to avoid ambiguity.
func MatchesWeekday(key string, day time.Weekday) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if len(k) < 3 {
		return false
	}
	full := strings.ToLower(day.String())
	return strings.HasPrefix(full, k)
}
