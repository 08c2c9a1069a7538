// Package ui renders command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/timesheet-dev/timesheet/internal/timeutil"
	"github.com/timesheet-dev/timesheet/internal/types"
)

const (
	colorAccent = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("245")
	colorOK     = lipgloss.Color("42")
	colorWarn   = lipgloss.Color("214")
	colorError  = lipgloss.Color("196")
)

// UI writes styled output to one writer.
type UI struct {
	w        io.Writer
	renderer *lipgloss.Renderer

	header lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	total  lipgloss.Style
}

// New creates a UI for w. Colors are used only when color is true and w is
// a terminal that supports them.
func New(w io.Writer, color bool) *UI {
	var r *lipgloss.Renderer
	if color {
		r = lipgloss.NewRenderer(w)
	} else {
		r = lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
		r.SetColorProfile(termenv.Ascii)
	}
	return &UI{
		w:        w,
		renderer: r,
		header:   r.NewStyle().Bold(true).Foreground(colorAccent),
		muted:    r.NewStyle().Foreground(colorMuted),
		ok:       r.NewStyle().Foreground(colorOK),
		warn:     r.NewStyle().Foreground(colorWarn),
		err:      r.NewStyle().Bold(true).Foreground(colorError),
		total:    r.NewStyle().Bold(true),
	}
}

// Writer returns the underlying writer.
func (u *UI) Writer() io.Writer { return u.w }

func (u *UI) Printf(format string, args ...any) {
	fmt.Fprintf(u.w, format, args...)
}

// Success prints a confirmation line.
func (u *UI) Success(format string, args ...any) {
	fmt.Fprintln(u.w, u.ok.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (u *UI) Warn(format string, args ...any) {
	fmt.Fprintln(u.w, u.warn.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (u *UI) Error(format string, args ...any) {
	fmt.Fprintln(u.w, u.err.Render("Error: ")+fmt.Sprintf(format, args...))
}

// Muted prints a dimmed line.
func (u *UI) Muted(format string, args ...any) {
	fmt.Fprintln(u.w, u.muted.Render(fmt.Sprintf(format, args...)))
}

func (u *UI) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(u.muted).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return u.header.Padding(0, 1)
			}
			return u.renderer.NewStyle().Padding(0, 1)
		})
}

// Worklogs prints worklogs grouped by day with a subtotal per day and a
// grand total. summaries maps issue keys to their summary line.
func (u *UI) Worklogs(wls []types.LocalWorklog, summaries map[types.IssueKey]string) {
	if len(wls) == 0 {
		u.Muted("No worklogs")
		return
	}

	sorted := make([]types.LocalWorklog, len(wls))
	copy(sorted, wls)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Started.Before(sorted[j].Started) })

	t := u.newTable("Date", "Start", "Spent", "Issue", "Summary", "Author", "Comment", "ID")
	var day string
	var daySeconds, totalSeconds int
	flush := func() {
		if day != "" {
			t.Row("", "", u.total.Render(timeutil.FormatSeconds(daySeconds)), "", "", "", "", "")
		}
	}
	for _, wl := range sorted {
		local := wl.Started.Local()
		d := local.Format("2006-01-02 Mon")
		if d != day {
			flush()
			day, daySeconds = d, 0
		} else {
			d = ""
		}
		daySeconds += wl.TimeSpentSeconds
		totalSeconds += wl.TimeSpentSeconds
		t.Row(d, local.Format("15:04"), timeutil.FormatSeconds(wl.TimeSpentSeconds),
			wl.IssueKey.String(), truncate(summaries[wl.IssueKey], 30), wl.Author, truncate(wl.Comment, 40), wl.ID)
	}
	flush()

	fmt.Fprintln(u.w, t.Render())
	fmt.Fprintf(u.w, "%s %s\n", u.total.Render("Total:"), timeutil.FormatSeconds(totalSeconds))
}

// Issues prints issues with their components.
func (u *UI) Issues(issues []types.Issue) {
	if len(issues) == 0 {
		u.Muted("No issues")
		return
	}
	t := u.newTable("Key", "Summary", "Components")
	for _, is := range issues {
		names := make([]string, 0, len(is.Components))
		for _, c := range is.Components {
			names = append(names, c.Name)
		}
		t.Row(is.Key.String(), is.Summary, strings.Join(names, ", "))
	}
	fmt.Fprintln(u.w, t.Render())
}

// Timers prints timers with their elapsed time at now.
func (u *UI) Timers(timers []types.Timer, now time.Time) {
	if len(timers) == 0 {
		u.Muted("No timers")
		return
	}
	t := u.newTable("ID", "Issue", "Started", "Stopped", "Elapsed", "Synced", "Comment")
	for _, tm := range timers {
		stopped := u.ok.Render("running")
		if tm.StoppedAt != nil {
			stopped = tm.StoppedAt.Local().Format("2006-01-02 15:04")
		}
		synced := "no"
		if tm.Synced {
			synced = "yes"
		}
		t.Row(fmt.Sprint(tm.ID), tm.IssueKey.String(), tm.StartedAt.Local().Format("2006-01-02 15:04"),
			stopped, FormatElapsed(tm.Elapsed(now)), synced, truncate(tm.Comment, 40))
	}
	fmt.Fprintln(u.w, t.Render())
}

// ActiveTimer prints the one-line running timer banner.
func (u *UI) ActiveTimer(tm types.Timer, now time.Time) {
	fmt.Fprintf(u.w, "%s %s since %s (%s)\n",
		u.header.Render("Timer running:"), tm.IssueKey,
		tm.StartedAt.Local().Format("15:04"), FormatElapsed(tm.Elapsed(now)))
}

// KeyValues prints aligned key/value lines in the order given.
func (u *UI) KeyValues(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	key := u.header.Width(width + 2)
	for _, p := range pairs {
		fmt.Fprintln(u.w, key.Render(p[0]+":")+p[1])
	}
}

// FormatElapsed formats d as "1h02m" or "45s".
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
