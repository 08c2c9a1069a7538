package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

func TestWorklogs_DayTotals(t *testing.T) {
	var buf bytes.Buffer
	u := New(&buf, false)

	mon := time.Date(2024, 3, 4, 8, 0, 0, 0, time.Local)
	u.Worklogs([]types.LocalWorklog{
		{ID: "3", IssueKey: "TIME-2", Started: mon.AddDate(0, 0, 1), TimeSpentSeconds: 1800, Author: "Ola"},
		{ID: "1", IssueKey: "TIME-1", Started: mon, TimeSpentSeconds: 3600, Author: "Ola", Comment: "standup"},
		{ID: "2", IssueKey: "TIME-1", Started: mon.Add(2 * time.Hour), TimeSpentSeconds: 5400, Author: "Ola"},
	}, map[types.IssueKey]string{"TIME-1": "Admin"})

	out := buf.String()
	for _, want := range []string{"2024-03-04 Mon", "2024-03-05 Tue", "02:30", "Admin", "standup", "Total: 03:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "2024-03-04") != 1 {
		t.Errorf("date repeated within a day:\n%s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("escape codes in uncolored output:\n%s", out)
	}
}

func TestWorklogs_Empty(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Worklogs(nil, nil)
	if !strings.Contains(buf.String(), "No worklogs") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestIssues(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Issues([]types.Issue{
		{Key: "TIME-1", Summary: "Admin", Components: []types.Component{{ID: "1", Name: "Ops"}, {ID: "2", Name: "Dev"}}},
	})
	if out := buf.String(); !strings.Contains(out, "TIME-1") || !strings.Contains(out, "Ops, Dev") {
		t.Errorf("output = %q", out)
	}
}

func TestTimers(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.Local)
	stop := start.Add(time.Hour)
	New(&buf, false).Timers([]types.Timer{
		{ID: 1, IssueKey: "TIME-1", StartedAt: start, StoppedAt: &stop, Synced: true},
		{ID: 2, IssueKey: "TIME-2", StartedAt: stop},
	}, stop.Add(5*time.Minute))

	out := buf.String()
	for _, want := range []string{"1h00m", "5m", "running", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m"},
		{62 * time.Minute, "1h02m"},
		{25 * time.Hour, "25h00m"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("line one\nline two", 100); got != "line one line two" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate() = %q", got)
	}
}
