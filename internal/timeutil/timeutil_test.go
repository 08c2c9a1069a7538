package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

var oslo = time.FixedZone("CET", 3600)

func TestParseDateTime(t *testing.T) {
	now := time.Date(2023, 5, 31, 14, 10, 0, 0, oslo)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-05-25", time.Date(2023, 5, 25, 8, 0, 0, 0, oslo)},
		{"08:00", time.Date(2023, 5, 31, 8, 0, 0, 0, oslo)},
		{"9:15", time.Date(2023, 5, 31, 9, 15, 0, 0, oslo)},
		{"2023-05-25T20:59", time.Date(2023, 5, 25, 20, 59, 0, 0, oslo)},
		{"2023-05-25 20:59", time.Date(2023, 5, 25, 20, 59, 0, 0, oslo)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDateTime(tt.in, now)
			if err != nil {
				t.Fatalf("ParseDateTime(%q) failed: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDateTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDateTime_Natural(t *testing.T) {
	now := time.Date(2023, 5, 31, 14, 10, 0, 0, oslo)

	got, err := ParseDateTime("yesterday", now)
	if err != nil {
		t.Fatalf("ParseDateTime(yesterday) failed: %v", err)
	}
	if y, m, d := got.Date(); y != 2023 || m != time.May || d != 30 {
		t.Errorf("ParseDateTime(yesterday) = %v, want 2023-05-30", got)
	}
}

func TestParseDateTime_Invalid(t *testing.T) {
	now := time.Date(2023, 5, 31, 14, 10, 0, 0, oslo)
	for _, in := range []string{"", "2023-13-45", "25:99", "rubbish"} {
		if _, err := ParseDateTime(in, now); !errors.Is(err, types.ErrBadInput) {
			t.Errorf("ParseDateTime(%q) = %v, want ErrBadInput", in, err)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tt := types.TimeTracking{WorkingHoursPerDay: 7.5, WorkingDaysPerWeek: 5}

	tests := []struct {
		in   string
		text string
		secs int
	}{
		{"1.5h", "1.5h", 5400},
		{"7,5h", "7.5h", 27000},
		{"90m", "90m", 5400},
		{"1.2d", "1.2d", 32400},
		{"1.2w", "1.2w", 162000},
		{"7h30m", "7h30m", 27000},
		{"1.5w0.5d7.5h30m", "1.5w0.5d7.5h30m", 244800},
		{"1W2D", "1w2d", 189000},
		{"1h 30m", "1h30m", 5400},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDuration(tc.in, tt)
			if err != nil {
				t.Fatalf("ParseDuration(%q) failed: %v", tc.in, err)
			}
			if got.Seconds != tc.secs || got.Text != tc.text {
				t.Errorf("ParseDuration(%q) = %+v, want %q/%d", tc.in, got, tc.text, tc.secs)
			}
		})
	}
}

func TestParseDuration_DefaultTracking(t *testing.T) {
	got, err := ParseDuration("1d", types.TimeTracking{})
	if err != nil {
		t.Fatalf("ParseDuration() failed: %v", err)
	}
	if got.Seconds != 8*3600 {
		t.Errorf("ParseDuration(1d) = %d seconds, want %d", got.Seconds, 8*3600)
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "1", "h", "0h", "1x", "mon:4h", "1.234h"} {
		if _, err := ParseDuration(in, types.DefaultTimeTracking()); !errors.Is(err, types.ErrBadInput) {
			t.Errorf("ParseDuration(%q) = %v, want ErrBadInput", in, err)
		}
	}
}

func TestParseWeekdayDurations(t *testing.T) {
	got, err := ParseWeekdayDurations([]string{"Mon:1,5h", "tue:3h", "friday:1d"})
	if err != nil {
		t.Fatalf("ParseWeekdayDurations() failed: %v", err)
	}
	want := []WeekdayDuration{
		{time.Monday, "1,5h"},
		{time.Tuesday, "3h"},
		{time.Friday, "1d"},
	}
	if len(got) != len(want) {
		t.Fatalf("ParseWeekdayDurations() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"4h", "mo:4h", "mon:", "funday:1h"} {
		if _, err := ParseWeekdayDurations([]string{bad}); !errors.Is(err, types.ErrBadInput) {
			t.Errorf("ParseWeekdayDurations(%q) = %v, want ErrBadInput", bad, err)
		}
	}
}

func TestIsWeekdayDuration(t *testing.T) {
	tests := map[string]bool{
		"mon:4h":  true,
		"Fri:1d":  true,
		"4h":      false,
		"10:30":   false,
		"":        false,
		"xyz:10m": false,
	}
	for in, want := range tests {
		if got := IsWeekdayDuration(in); got != want {
			t.Errorf("IsWeekdayDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLastWeekday(t *testing.T) {
	wed := time.Date(2023, 5, 31, 15, 0, 0, 0, oslo)

	tests := []struct {
		wd   time.Weekday
		want time.Time
	}{
		{time.Wednesday, time.Date(2023, 5, 31, 8, 0, 0, 0, oslo)},
		{time.Tuesday, time.Date(2023, 5, 30, 8, 0, 0, 0, oslo)},
		{time.Thursday, time.Date(2023, 5, 25, 8, 0, 0, 0, oslo)},
		{time.Monday, time.Date(2023, 5, 29, 8, 0, 0, 0, oslo)},
	}
	for _, tt := range tests {
		if got := LastWeekday(wed, tt.wd); !got.Equal(tt.want) {
			t.Errorf("LastWeekday(%s) = %v, want %v", tt.wd, got, tt.want)
		}
	}
}

func TestStartTime(t *testing.T) {
	now := time.Date(2024, 12, 17, 12, 25, 0, 0, oslo)

	got, err := StartTime(time.Time{}, 3600, now)
	if err != nil {
		t.Fatalf("StartTime() failed: %v", err)
	}
	if want := now.Add(-time.Hour); !got.Equal(want) {
		t.Errorf("StartTime() = %v, want %v", got, want)
	}

	oneHourAgo := now.Add(-time.Hour)
	if _, err := StartTime(oneHourAgo, 3600, now); err != nil {
		t.Errorf("StartTime(one hour ago, 1h) failed: %v", err)
	}

	thirtyMinAgo := now.Add(-30 * time.Minute)
	if _, err := StartTime(thirtyMinAgo, 3600, now); !errors.Is(err, types.ErrBadInput) {
		t.Errorf("StartTime(30m ago, 1h) = %v, want ErrBadInput", err)
	}
}

func TestStartOfWeek(t *testing.T) {
	sun := time.Date(2023, 6, 4, 22, 0, 0, 0, oslo)
	want := time.Date(2023, 5, 29, 0, 0, 0, 0, oslo)
	if got := StartOfWeek(sun); !got.Equal(want) {
		t.Errorf("StartOfWeek() = %v, want %v", got, want)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := FormatSeconds(5400); got != "01:30" {
		t.Errorf("FormatSeconds(5400) = %q", got)
	}
}
