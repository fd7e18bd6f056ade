package timeutils

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 900, false},
		{"18:30", 1830, false},
		{"00:00", 0, false},
		{"23:59", 2359, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseClock(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestWithinWindowInclusive(t *testing.T) {
	if !WithinWindow(900, 900, 1800) {
		t.Error("start boundary should be inside the window")
	}
	if !WithinWindow(1800, 900, 1800) {
		t.Error("end boundary should be inside the window")
	}
	if WithinWindow(1801, 900, 1800) {
		t.Error("1801 should be outside 900-1800")
	}
}

func TestMatchesWeekday(t *testing.T) {
	if !MatchesWeekday("mon", time.Monday) {
		t.Error("abbreviated key should match")
	}
	if !MatchesWeekday("Monday", time.Monday) {
		t.Error("full key should match")
	}
	if !MatchesWeekday("TUE", time.Tuesday) {
		t.Error("match should be case-insensitive")
	}
	if MatchesWeekday("mon", time.Tuesday) {
		t.Error("mon should not match Tuesday")
	}
	if MatchesWeekday("m", time.Monday) {
		t.Error("keys shorter than 3 chars are ambiguous and must not match")
	}
}

func TestClockInt(t *testing.T) {
	ts := time.Date(2025, 3, 10, 14, 5, 33, 0, time.UTC)
	if got := ClockInt(ts); got != 1405 {
		t.Errorf("ClockInt = %d, want 1405", got)
	}
}
