// Package timeutil parses the dates, times and durations accepted on the
// command line.
package timeutil

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// WorkdayStart is the hour entries given only a date start at.
const WorkdayStart = 8

var (
	dateExpr     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeExpr     = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
	dateTimeExpr = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{1,2}:\d{2}$`)

	durationExpr = regexp.MustCompile(`^(?:(\d+(?:[.,]\d{1,2})?)w)?(?:(\d+(?:[.,]\d{1,2})?)d)?(?:(\d+(?:[.,]\d{1,2})?)h)?(?:(\d+)m)?$`)

	parser = newParser()
)

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDateTime parses s in the location of now.
//
// Accepted forms are "2006-01-02" (08:00 that day), "15:04" (today),
// "2006-01-02T15:04", and English expressions such as "yesterday 9am" or
// "last monday".
func ParseDateTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := now.Location()

	switch {
	case dateExpr.MatchString(s):
		d, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, badInput(s, err)
		}
		return d.Add(WorkdayStart * time.Hour), nil
	case timeExpr.MatchString(s):
		t, err := time.ParseInLocation("15:04", s, loc)
		if err != nil {
			return time.Time{}, badInput(s, err)
		}
		y, m, d := now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
	case dateTimeExpr.MatchString(s):
		t, err := time.ParseInLocation("2006-01-02T15:04", strings.Replace(s, " ", "T", 1), loc)
		if err != nil {
			return time.Time{}, badInput(s, err)
		}
		return t, nil
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, badInput(s, err)
	}
	if r == nil {
		return time.Time{}, badInput(s, fmt.Errorf("not a date or time"))
	}
	return r.Time, nil
}

// TimeSpent is a parsed worklog duration.
type TimeSpent struct {
	// Text is the normalized input, e.g. "1.5h"
	Text    string
	Seconds int
}

// Duration returns the time spent as a time.Duration.
func (t TimeSpent) Duration() time.Duration {
	return time.Duration(t.Seconds) * time.Second
}

// ParseDuration parses durations such as "1h", "7,5h", "90m", "1d" or
// "1w2d3h30m". Days and weeks are converted with the Jira time-tracking
// configuration. A comma is accepted as decimal separator.
func ParseDuration(s string, tt types.TimeTracking) (TimeSpent, error) {
	text := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ",", ".")
	text = strings.ReplaceAll(text, " ", "")
	m := durationExpr.FindStringSubmatch(text)
	if text == "" || m == nil {
		return TimeSpent{}, badInput(s, fmt.Errorf("expected a duration like 1h30m, 7,5h or 1d"))
	}

	num := func(v string) float64 {
		if v == "" {
			return 0
		}
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	hoursPerDay := tt.WorkingHoursPerDay
	daysPerWeek := tt.WorkingDaysPerWeek
	if hoursPerDay <= 0 || daysPerWeek <= 0 {
		def := types.DefaultTimeTracking()
		hoursPerDay, daysPerWeek = def.WorkingHoursPerDay, def.WorkingDaysPerWeek
	}

	secs := num(m[1])*daysPerWeek*hoursPerDay*3600 +
		num(m[2])*hoursPerDay*3600 +
		num(m[3])*3600 +
		num(m[4])*60
	seconds := int(math.Round(secs))
	if seconds <= 0 {
		return TimeSpent{}, badInput(s, fmt.Errorf("duration must be positive"))
	}
	return TimeSpent{Text: text, Seconds: seconds}, nil
}

// WeekdayDuration is a duration logged on the most recent given weekday.
type WeekdayDuration struct {
	Weekday  time.Weekday
	Duration string
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// IsWeekdayDuration reports whether s has the form "mon:4h".
func IsWeekdayDuration(s string) bool {
	day, _, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	_, known := weekdays[strings.ToLower(day)[:min(3, len(day))]]
	return known
}

// ParseWeekdayDurations parses entries such as "mon:4h" and "Tue:3,5h".
// Full day names are accepted.
func ParseWeekdayDurations(entries []string) ([]WeekdayDuration, error) {
	out := make([]WeekdayDuration, 0, len(entries))
	for _, e := range entries {
		day, dur, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || dur == "" {
			return nil, badInput(e, fmt.Errorf("expected <weekday>:<duration>, e.g. mon:4h"))
		}
		day = strings.ToLower(day)
		if len(day) < 3 {
			return nil, badInput(e, fmt.Errorf("unknown weekday %q", day))
		}
		wd, known := weekdays[day[:3]]
		if !known || !strings.HasPrefix(strings.ToLower(wd.String()), day) {
			return nil, badInput(e, fmt.Errorf("unknown weekday %q", day))
		}
		out = append(out, WeekdayDuration{Weekday: wd, Duration: dur})
	}
	return out, nil
}

// LastWeekday returns the most recent date on or before from that falls on
// wd, at WorkdayStart in from's location.
func LastWeekday(from time.Time, wd time.Weekday) time.Time {
	back := (int(from.Weekday()) - int(wd) + 7) % 7
	y, m, d := from.Date()
	return time.Date(y, m, d-back, WorkdayStart, 0, 0, 0, from.Location())
}

// StartTime returns when a worklog of seconds length starts. A zero start
// means it ends now. The entry may not end after now.
func StartTime(start time.Time, seconds int, now time.Time) (time.Time, error) {
	d := time.Duration(seconds) * time.Second
	if start.IsZero() {
		return now.Add(-d), nil
	}
	if end := start.Add(d); end.After(now) {
		return time.Time{}, types.Wrap(types.ErrBadInput, "compute start", start.Format("2006-01-02T15:04"),
			fmt.Errorf("start %s plus %s ends at %s, which is in the future",
				start.Format("2006-01-02 15:04"), d, end.Format("2006-01-02 15:04")))
	}
	return start, nil
}

// StartOfWeek returns Monday 00:00 of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	back := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-back, 0, 0, 0, 0, t.Location())
}

// FormatSeconds formats a duration as "HH:MM".
func FormatSeconds(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/3600, seconds%3600/60)
}

func badInput(s string, err error) error {
	return types.Wrap(types.ErrBadInput, "parse", strconv.Quote(s), err)
}
