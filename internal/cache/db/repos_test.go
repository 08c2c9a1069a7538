package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

func TestIssueAdd_ReplacesComponents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	issue := types.Issue{
		Key:     "TIME-1",
		ID:      "500",
		Summary: "Admin",
		Components: []types.Component{
			{ID: "c1", Name: "Backend"},
			{ID: "c2", Name: "API"},
		},
	}
	if err := db.Issues().Add(ctx, issue); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	issue.Components = []types.Component{{ID: "c1", Name: "Core"}}
	if err := db.Issues().Add(ctx, issue); err != nil {
		t.Fatalf("second Add() failed: %v", err)
	}

	got, err := db.Issues().Find(ctx, []types.IssueKey{"TIME-1"})
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Find() returned %d issues, want 1", len(got))
	}
	if got[0].Summary != "Admin" || got[0].ID != "500" {
		t.Errorf("issue = %+v", got[0])
	}
	if len(got[0].Components) != 1 || got[0].Components[0].Name != "Core" {
		t.Errorf("Components = %+v, want [c1 Core]", got[0].Components)
	}
}

func TestIssueAdd_KeepsKnownFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Issues().Add(ctx, types.Issue{Key: "TIME-1", ID: "500", Summary: "Admin"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	// A lazy reference must not wipe the summary
	if err := db.Issues().EnsureExists(ctx, "TIME-1"); err != nil {
		t.Fatalf("EnsureExists() failed: %v", err)
	}

	got, err := db.Issues().Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "Admin" || got[0].ID != "500" {
		t.Errorf("Find() = %+v", got)
	}
}

func TestComponents_AddForIssueIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	comps := []types.Component{{ID: "c1", Name: "Backend"}}
	for i := 0; i < 2; i++ {
		if err := db.Components().AddForIssue(ctx, "TIME-1", comps); err != nil {
			t.Fatalf("AddForIssue() #%d failed: %v", i, err)
		}
	}

	got, err := db.Components().FindForIssue(ctx, "TIME-1")
	if err != nil {
		t.Fatalf("FindForIssue() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("FindForIssue() = %+v, want one component", got)
	}

	if err := db.Components().Remove(ctx, "c1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	got, err = db.Components().FindForIssue(ctx, "TIME-1")
	if err != nil {
		t.Fatalf("FindForIssue() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FindForIssue() after Remove() = %+v, want none", got)
	}
}

func TestComponents_RemoveLeavesIssues(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	issue := types.Issue{
		Key:        "TIME-1",
		ID:         "500",
		Summary:    "Admin",
		Components: []types.Component{{ID: "c1", Name: "Backend"}},
	}
	if err := db.Issues().Add(ctx, issue); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if _, err := db.Worklogs().Upsert(ctx, testWorklog("w1", "TIME-1", started, 3600)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO component (id, name) VALUES ('c9', 'Unused')`); err != nil {
		t.Fatalf("insert unlinked component failed: %v", err)
	}

	assertIntact := func(wantComponents int) {
		t.Helper()
		got, err := db.Issues().Find(ctx, []types.IssueKey{"TIME-1"})
		if err != nil {
			t.Fatalf("Find() failed: %v", err)
		}
		if len(got) != 1 || got[0].Summary != "Admin" || got[0].ID != "500" {
			t.Fatalf("Find() = %+v, want TIME-1 unchanged", got)
		}
		if len(got[0].Components) != wantComponents {
			t.Errorf("Components = %+v, want %d", got[0].Components, wantComponents)
		}
		wl, err := db.Worklogs().Find(ctx, "w1")
		if err != nil {
			t.Fatalf("Worklogs().Find() failed: %v", err)
		}
		if wl.IssueKey != "TIME-1" || wl.TimeSpentSeconds != 3600 {
			t.Errorf("worklog = %+v", wl)
		}
	}

	if err := db.Components().Remove(ctx, "c9"); err != nil {
		t.Fatalf("Remove(unlinked) failed: %v", err)
	}
	assertIntact(1)

	if err := db.Components().Remove(ctx, "c1"); err != nil {
		t.Fatalf("Remove(linked) failed: %v", err)
	}
	assertIntact(0)
}

func TestUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Users().FindCurrent(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("FindCurrent() on empty store = %v, want ErrNotFound", err)
	}

	first := types.User{AccountID: "acc-1", Email: "a@example.com", DisplayName: "A"}
	second := types.User{AccountID: "acc-2", DisplayName: "B"}

	if err := db.Users().SetCurrent(ctx, first); err != nil {
		t.Fatalf("SetCurrent() failed: %v", err)
	}
	if err := db.Users().SetCurrent(ctx, second); err != nil {
		t.Fatalf("SetCurrent() failed: %v", err)
	}

	cur, err := db.Users().FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent() failed: %v", err)
	}
	if cur.AccountID != "acc-2" {
		t.Errorf("current = %q, want acc-2", cur.AccountID)
	}

	got, err := db.Users().Find(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if got.Email != "a@example.com" {
		t.Errorf("Email = %q", got.Email)
	}

	// Two users without email do not collide
	if err := db.Users().Add(ctx, types.User{AccountID: "acc-3"}); err != nil {
		t.Errorf("Add() without email failed: %v", err)
	}

	dup := types.User{AccountID: "acc-4", Email: "a@example.com"}
	if err := db.Users().Add(ctx, dup); !errors.Is(err, types.ErrBadInput) {
		t.Errorf("Add() with taken email = %v, want ErrBadInput", err)
	}
}

func TestUsers_SetCurrentSharedEmail(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := types.User{AccountID: "acc-old", Email: "ola@example.com", DisplayName: "Ola (old)"}
	if err := db.Users().SetCurrent(ctx, old); err != nil {
		t.Fatalf("SetCurrent() failed: %v", err)
	}

	migrated := types.User{AccountID: "acc-new", Email: "ola@example.com", DisplayName: "Ola"}
	if err := db.Users().SetCurrent(ctx, migrated); err != nil {
		t.Fatalf("SetCurrent() with an email held by another account failed: %v", err)
	}

	cur, err := db.Users().FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent() failed: %v", err)
	}
	if cur.AccountID != "acc-new" || cur.Email != "ola@example.com" {
		t.Errorf("current = %+v, want acc-new with ola@example.com", cur)
	}

	got, err := db.Users().Find(ctx, "acc-old")
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if got.Email != "" || got.DisplayName != "Ola (old)" {
		t.Errorf("old account = %+v, want kept without email", got)
	}

	// Setting the same user again keeps its email
	if err := db.Users().SetCurrent(ctx, migrated); err != nil {
		t.Fatalf("SetCurrent() again failed: %v", err)
	}
	if cur, _ := db.Users().FindCurrent(ctx); cur.Email != "ola@example.com" {
		t.Errorf("Email after repeat = %q", cur.Email)
	}
}

func TestTimers_SingleActive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)

	id, err := db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-1", StartedAt: start, Comment: "first"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	_, err = db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-2", StartedAt: start})
	if !errors.Is(err, types.ErrActiveTimerExists) {
		t.Fatalf("second Start() = %v, want ErrActiveTimerExists", err)
	}

	active, err := db.Timers().FindActive(ctx)
	if err != nil {
		t.Fatalf("FindActive() failed: %v", err)
	}
	if active.ID != id || active.IssueKey != "TIME-1" || !active.IsActive() {
		t.Errorf("FindActive() = %+v", active)
	}

	stopAt := start.Add(30 * time.Minute)
	stopped, err := db.Timers().StopActive(ctx, stopAt, "")
	if err != nil {
		t.Fatalf("StopActive() failed: %v", err)
	}
	if stopped.StoppedAt == nil || stopped.Comment != "first" {
		t.Errorf("StopActive() = %+v", stopped)
	}

	if _, err := db.Timers().FindActive(ctx); !errors.Is(err, types.ErrNoActiveTimer) {
		t.Errorf("FindActive() after stop = %v, want ErrNoActiveTimer", err)
	}
	if _, err := db.Timers().StopActive(ctx, stopAt, ""); !errors.Is(err, types.ErrNoActiveTimer) {
		t.Errorf("StopActive() without timer = %v, want ErrNoActiveTimer", err)
	}

	// A new timer can start once the previous one stopped
	if _, err := db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-2", StartedAt: stopAt}); err != nil {
		t.Errorf("Start() after stop failed: %v", err)
	}
}

func TestTimers_Unsynced(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Hour)

	id, err := db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-1", StartedAt: start})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := db.Timers().StopActive(ctx, start.Add(time.Hour), "done"); err != nil {
		t.Fatalf("StopActive() failed: %v", err)
	}

	unsynced, err := db.Timers().FindUnsynced(ctx, start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindUnsynced() failed: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].ID != id {
		t.Fatalf("FindUnsynced() = %+v", unsynced)
	}
	if got := unsynced[0].Elapsed(time.Now()); got != time.Hour {
		t.Errorf("Elapsed() = %v, want 1h", got)
	}

	if err := db.Timers().MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	unsynced, err = db.Timers().FindUnsynced(ctx, start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindUnsynced() failed: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("FindUnsynced() after MarkSynced() = %+v", unsynced)
	}

	byIssue, err := db.Timers().FindByIssue(ctx, "TIME-1")
	if err != nil {
		t.Fatalf("FindByIssue() failed: %v", err)
	}
	if len(byIssue) != 1 || !byIssue[0].Synced {
		t.Errorf("FindByIssue() = %+v", byIssue)
	}

	if err := db.Timers().Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	after, err := db.Timers().FindAfter(ctx, start.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindAfter() failed: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("FindAfter() after Delete() = %+v", after)
	}
}

func TestTimers_UpdateReopenBlocked(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	start := time.Now().Add(-2 * time.Hour)

	if _, err := db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-1", StartedAt: start}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	stopped, err := db.Timers().StopActive(ctx, start.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("StopActive() failed: %v", err)
	}
	if _, err := db.Timers().Start(ctx, types.Timer{IssueKey: "TIME-2", StartedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Reopening the first timer would make two active timers
	stopped.StoppedAt = nil
	if err := db.Timers().Update(ctx, stopped); !errors.Is(err, types.ErrActiveTimerExists) {
		t.Errorf("Update() = %v, want ErrActiveTimerExists", err)
	}

	if err := db.Timers().Update(ctx, types.Timer{ID: 999, IssueKey: "TIME-1", StartedAt: start}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Update() of unknown timer = %v, want ErrNotFound", err)
	}
}

func TestDeletions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Worklogs().Upsert(ctx, testWorklog("1", "TIME-1", time.Now(), 60)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := db.Deletions().Mark(ctx, "1", "TIME-1"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}
	if err := db.Deletions().Mark(ctx, "2", "TIME-1"); err != nil {
		t.Fatalf("Mark() failed: %v", err)
	}

	pending, err := db.Deletions().List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("List() returned %d, want 2", len(pending))
	}

	if err := db.Deletions().CompleteDeletion(ctx, "1"); err != nil {
		t.Fatalf("CompleteDeletion() failed: %v", err)
	}
	if _, err := db.Worklogs().Find(ctx, "1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("worklog still cached after CompleteDeletion(): %v", err)
	}

	if err := db.Deletions().Clear(ctx, "2"); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	pending, err = db.Deletions().List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("List() = %+v, want empty", pending)
	}
}
