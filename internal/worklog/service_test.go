package worklog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Wednesday afternoon
var testNow = time.Date(2023, 5, 31, 16, 0, 0, 0, time.Local)

type fakeRemote struct {
	inserted  []jira.NewWorklog
	keys      []types.IssueKey
	insertErr error
	ttCalls   int
}

func (f *fakeRemote) TimeTracking(ctx context.Context) (types.TimeTracking, error) {
	f.ttCalls++
	return types.TimeTracking{WorkingHoursPerDay: 7.5, WorkingDaysPerWeek: 5}, nil
}

func (f *fakeRemote) InsertWorklog(ctx context.Context, key types.IssueKey, in jira.NewWorklog) (types.Worklog, error) {
	if f.insertErr != nil {
		return types.Worklog{}, f.insertErr
	}
	f.inserted = append(f.inserted, in)
	f.keys = append(f.keys, key)
	return types.Worklog{
		ID:               fmt.Sprintf("%d", 20000+len(f.inserted)),
		IssueKey:         key,
		Author:           types.Author{AccountID: "acc-me", DisplayName: "Ola Dunk"},
		Created:          testNow,
		Updated:          testNow,
		Started:          in.Started,
		TimeSpentSeconds: in.TimeSpentSeconds,
		Comment:          in.Comment,
	}, nil
}

func setup(t *testing.T) (*cache.Store, *fakeRemote, *Service) {
	t.Helper()
	store, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rem := &fakeRemote{}
	svc := New(store, rem, Config{
		Now:    func() time.Time { return testNow },
		Logger: log.New(io.Discard, "", 0),
	})
	return store, rem, svc
}

func TestAdd_Single(t *testing.T) {
	ctx := context.Background()
	store, rem, svc := setup(t)

	added, err := svc.Add(ctx, AddRequest{IssueKey: "time-1", Durations: []string{"1,5h"}, Comment: "standup"})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if len(added) != 1 || len(rem.inserted) != 1 {
		t.Fatalf("Add() = %+v, inserted %d", added, len(rem.inserted))
	}
	if rem.keys[0] != "TIME-1" {
		t.Errorf("issue key = %q, want TIME-1", rem.keys[0])
	}
	in := rem.inserted[0]
	if in.TimeSpentSeconds != 5400 || in.Comment != "standup" {
		t.Errorf("inserted = %+v", in)
	}
	if want := testNow.Add(-90 * time.Minute); !in.Started.Equal(want) {
		t.Errorf("started = %v, want %v", in.Started, want)
	}

	cached, err := store.FindWorklog(ctx, added[0].ID)
	if err != nil {
		t.Fatalf("FindWorklog() failed: %v", err)
	}
	if cached.IssueKey != "TIME-1" || cached.TimeSpentSeconds != 5400 {
		t.Errorf("cached = %+v", cached)
	}
}

func TestAdd_ExplicitStart(t *testing.T) {
	ctx := context.Background()
	_, rem, svc := setup(t)

	if _, err := svc.Add(ctx, AddRequest{IssueKey: "TIME-1", Durations: []string{"1d"}, Started: "2023-05-30"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	in := rem.inserted[0]
	if want := time.Date(2023, 5, 30, 8, 0, 0, 0, time.Local); !in.Started.Equal(want) {
		t.Errorf("started = %v, want %v", in.Started, want)
	}
	if in.TimeSpentSeconds != 27000 {
		t.Errorf("seconds = %d, want 27000", in.TimeSpentSeconds)
	}
}

func TestAdd_Weekdays(t *testing.T) {
	ctx := context.Background()
	_, rem, svc := setup(t)

	added, err := svc.Add(ctx, AddRequest{IssueKey: "TIME-1", Durations: []string{"mon:4h", "tue:3,5h"}})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("Add() returned %d entries, want 2", len(added))
	}
	wantStarts := []time.Time{
		time.Date(2023, 5, 29, 8, 0, 0, 0, time.Local),
		time.Date(2023, 5, 30, 8, 0, 0, 0, time.Local),
	}
	for i, want := range wantStarts {
		if !rem.inserted[i].Started.Equal(want) {
			t.Errorf("entry %d started = %v, want %v", i, rem.inserted[i].Started, want)
		}
	}
	if rem.inserted[1].TimeSpentSeconds != 12600 {
		t.Errorf("entry 1 seconds = %d, want 12600", rem.inserted[1].TimeSpentSeconds)
	}
	if rem.ttCalls != 1 {
		t.Errorf("time tracking fetched %d times, want 1", rem.ttCalls)
	}
}

func TestAdd_Invalid(t *testing.T) {
	ctx := context.Background()
	_, rem, svc := setup(t)

	tests := []struct {
		name string
		req  AddRequest
	}{
		{name: "no key", req: AddRequest{Durations: []string{"1h"}}},
		{name: "no duration", req: AddRequest{IssueKey: "TIME-1"}},
		{name: "bad duration", req: AddRequest{IssueKey: "TIME-1", Durations: []string{"1x"}}},
		{name: "ends in future", req: AddRequest{IssueKey: "TIME-1", Durations: []string{"2h"}, Started: "15:00"}},
		// Today is Wednesday; 08:00 + 9h ends after 16:00
		{name: "weekday ends in future", req: AddRequest{IssueKey: "TIME-1", Durations: []string{"wed:9h"}}},
		{name: "mixed", req: AddRequest{IssueKey: "TIME-1", Durations: []string{"mon:1h", "2h"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Add(ctx, tt.req); !errors.Is(err, types.ErrBadInput) {
				t.Errorf("Add() = %v, want ErrBadInput", err)
			}
		})
	}
	if len(rem.inserted) != 0 {
		t.Errorf("inserted %d worklogs, want none", len(rem.inserted))
	}
}

func TestAdd_RemoteFailureCachesNothing(t *testing.T) {
	ctx := context.Background()
	store, rem, svc := setup(t)
	rem.insertErr = types.Wrap(types.ErrNotFound, "POST worklog", "TIME-404", errors.New("status 404"))

	if _, err := svc.Add(ctx, AddRequest{IssueKey: "TIME-404", Durations: []string{"1h"}}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Add() = %v, want ErrNotFound", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Worklogs != 0 {
		t.Errorf("cached %d worklogs, want 0", stats.Worklogs)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	store, _, svc := setup(t)

	if _, err := svc.Status(ctx, StatusRequest{Since: testNow.AddDate(0, 0, -30)}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Status() before sync = %v, want ErrNotFound", err)
	}

	if err := store.SetCurrentUser(ctx, types.User{AccountID: "acc-me", DisplayName: "Ola Dunk"}); err != nil {
		t.Fatalf("SetCurrentUser() failed: %v", err)
	}
	if _, err := svc.Add(ctx, AddRequest{IssueKey: "TIME-1", Durations: []string{"1h"}}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	someoneElse := types.LocalWorklog{
		ID: "9", IssueKey: "TIME-1", Author: "Kari", AuthorAccountID: "acc-other",
		Created: testNow, Updated: testNow, Started: testNow.Add(-time.Hour), TimeSpentSeconds: 60,
	}
	if _, err := store.AddWorklog(ctx, someoneElse); err != nil {
		t.Fatalf("AddWorklog() failed: %v", err)
	}

	mine, err := svc.Status(ctx, StatusRequest{Since: testNow.AddDate(0, 0, -30)})
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("Status() = %d entries, want 1", len(mine))
	}

	all, err := svc.Status(ctx, StatusRequest{Since: testNow.AddDate(0, 0, -30), AllUsers: true})
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Status(all users) = %d entries, want 2", len(all))
	}
}
