package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/timesheet-dev/timesheet/internal/types"
)

func testClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.User = "me@example.com"
	cfg.Token = "secret"
	cfg.RetryBackoff = time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "empty url", cfg: Config{}},
		{name: "relative url", cfg: Config{BaseURL: "example.atlassian.net"}},
		{name: "bad version", cfg: Config{BaseURL: "https://x.atlassian.net", APIVersion: "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, types.ErrBadInput) {
				t.Errorf("New() = %v, want ErrBadInput", err)
			}
		})
	}
}

func TestCurrentUser(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/latest/myself" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "me@example.com" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		_, _ = io.WriteString(w, `{"accountId":"acc-1","emailAddress":"me@example.com","displayName":"Ola Dunk","timeZone":"Europe/Oslo"}`)
	})

	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() failed: %v", err)
	}
	if u.AccountID != "acc-1" || u.DisplayName != "Ola Dunk" || u.TimeZone != "Europe/Oslo" {
		t.Errorf("CurrentUser() = %+v", u)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, types.ErrAuth},
		{http.StatusForbidden, types.ErrAuth},
		{http.StatusNotFound, types.ErrNotFound},
		{http.StatusBadRequest, types.ErrBadInput},
		{http.StatusInternalServerError, types.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"errorMessages":["nope"],"errors":{}}`)
			})
			_, err := c.CurrentUser(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("CurrentUser() = %v, want %v", err, tt.want)
			}
			if err != nil && !strings.Contains(err.Error(), "nope") {
				t.Errorf("error %q does not carry the Jira message", err)
			}
		})
	}
}

func TestStatusError_LongBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "a"+strings.Repeat("ø", 300))
	})

	_, err := c.CurrentUser(context.Background())
	if !errors.Is(err, types.ErrBadInput) {
		t.Fatalf("CurrentUser() = %v, want ErrBadInput", err)
	}
	if !utf8.ValidString(err.Error()) {
		t.Errorf("error is not valid UTF-8: %q", err)
	}
	if !strings.Contains(err.Error(), "ø...") {
		t.Errorf("error %q is not truncated", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"aøb", 2, "a..."},
		{"aøb", 3, "aø..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5", 5 * time.Second},
		{" 60 ", time.Minute},
		{"3600", MaxRetryAfter},
		{"99999999999", MaxRetryAfter},
		{"0", 0},
		{"-3", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRetryOn429(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"accountId":"acc-1"}`)
	})

	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() failed: %v", err)
	}
	if u.AccountID != "acc-1" {
		t.Errorf("AccountID = %q", u.AccountID)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *Config) { cfg.MaxRetries = 2 })

	_, err := c.CurrentUser(context.Background())
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("CurrentUser() = %v, want ErrNetwork", err)
	}
	if !types.IsRetryable(err) {
		t.Error("exhausted retries should still be retryable")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWorklogPage(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/latest/issue/TIME-1/worklog" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("startAt") != "2" || q.Get("maxResults") != "2" {
			t.Errorf("query = %v", q)
		}
		if q.Get("startedAfter") != "1709251200000" {
			t.Errorf("startedAfter = %q", q.Get("startedAfter"))
		}
		_, _ = io.WriteString(w, `{
			"startAt": 2, "maxResults": 2, "total": 3,
			"worklogs": [{
				"id": "10001",
				"issueId": "500",
				"author": {"accountId": "acc-1", "displayName": "Ola Dunk"},
				"created": "2024-03-01T09:00:00.000+0100",
				"updated": "2024-03-01T09:00:00.000+0100",
				"started": "2024-03-01T08:00:00.000+0100",
				"timeSpent": "1h",
				"timeSpentSeconds": 3600,
				"comment": "pairing"
			}]
		}`)
	})

	page, err := c.WorklogPage(context.Background(), "TIME-1", since, 2, 2)
	if err != nil {
		t.Fatalf("WorklogPage() failed: %v", err)
	}
	if page.Total != 3 || page.IsLast || len(page.Items) != 1 {
		t.Fatalf("page = %+v", page)
	}
	wl := page.Items[0]
	want := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	if !wl.Started.Equal(want) {
		t.Errorf("Started = %v, want %v", wl.Started, want)
	}
	if wl.IssueKey != "TIME-1" || wl.Author.AccountID != "acc-1" || wl.Comment != "pairing" {
		t.Errorf("worklog = %+v", wl)
	}
}

func TestWorklogPage_ADFCommentAndNoTotal(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"startAt": 0, "maxResults": 50, "isLast": true,
			"worklogs": [{
				"id": "1",
				"started": "2024-03-01T08:00:00.000+0000",
				"timeSpentSeconds": 60,
				"comment": {"type":"doc","version":1,"content":[
					{"type":"paragraph","content":[{"type":"text","text":"fixed "},{"type":"text","text":"bug"}]}
				]}
			}]
		}`)
	}, func(cfg *Config) { cfg.APIVersion = "3" })

	page, err := c.WorklogPage(context.Background(), "TIME-1", time.Time{}, 0, 50)
	if err != nil {
		t.Fatalf("WorklogPage() failed: %v", err)
	}
	if page.Total != -1 || !page.IsLast {
		t.Errorf("Total = %d, IsLast = %v", page.Total, page.IsLast)
	}
	if got := page.Items[0].Comment; got != "fixed bug" {
		t.Errorf("Comment = %q, want %q", got, "fixed bug")
	}
}

func TestInsertWorklog(t *testing.T) {
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["started"] != "2024-03-01T08:00:00.000+0100" {
			t.Errorf("started = %v", body["started"])
		}
		if body["timeSpentSeconds"] != float64(5400) {
			t.Errorf("timeSpentSeconds = %v", body["timeSpentSeconds"])
		}
		if body["comment"] != "review" {
			t.Errorf("comment = %v", body["comment"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"20001","author":{"accountId":"acc-1"},"started":"2024-03-01T08:00:00.000+0100","timeSpentSeconds":5400,"comment":"review"}`)
	})

	wl, err := c.InsertWorklog(context.Background(), "TIME-1", NewWorklog{Started: started, TimeSpentSeconds: 5400, Comment: "review"})
	if err != nil {
		t.Fatalf("InsertWorklog() failed: %v", err)
	}
	if wl.ID != "20001" || wl.TimeSpentSeconds != 5400 {
		t.Errorf("InsertWorklog() = %+v", wl)
	}

	if _, err := c.InsertWorklog(context.Background(), "TIME-1", NewWorklog{Started: started}); !errors.Is(err, types.ErrBadInput) {
		t.Errorf("InsertWorklog() without duration = %v, want ErrBadInput", err)
	}
}

func TestDeleteWorklog(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/rest/api/latest/issue/TIME-1/worklog/10001" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteWorklog(context.Background(), "TIME-1", "10001"); err != nil {
		t.Errorf("DeleteWorklog() failed: %v", err)
	}
}

func TestSearchIssuesPage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("jql") != `project in ("TIME") order by key asc` {
			t.Errorf("jql = %q", q.Get("jql"))
		}
		if q.Get("fields") != "id,key,summary,components" {
			t.Errorf("fields = %q", q.Get("fields"))
		}
		_, _ = io.WriteString(w, `{"startAt":0,"maxResults":50,"total":1,"issues":[
			{"id":"500","key":"time-1","fields":{"summary":"Admin","components":[{"id":"c1","name":"Backend"}]}}
		]}`)
	})

	page, err := c.SearchIssuesPage(context.Background(), IssuesJQL([]string{"time"}, nil), 0, 50)
	if err != nil {
		t.Fatalf("SearchIssuesPage() failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items = %d", len(page.Items))
	}
	issue := page.Items[0]
	if issue.Key != "TIME-1" || issue.Summary != "Admin" || len(issue.Components) != 1 {
		t.Errorf("issue = %+v", issue)
	}
}

func TestTimeTracking(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"timeTrackingEnabled":true,"timeTrackingConfiguration":{"workingHoursPerDay":7.5,"workingDaysPerWeek":5}}`)
	})

	tt, err := c.TimeTracking(context.Background())
	if err != nil {
		t.Fatalf("TimeTracking() failed: %v", err)
	}
	if tt.WorkingHoursPerDay != 7.5 || tt.WorkingDaysPerWeek != 5 {
		t.Errorf("TimeTracking() = %+v", tt)
	}
}

func TestIssuesJQL(t *testing.T) {
	tests := []struct {
		projects []string
		keys     []types.IssueKey
		want     string
	}{
		{nil, []types.IssueKey{"TIME-1", "TIME-2"}, `issuekey in ("TIME-1","TIME-2") order by key asc`},
		{[]string{"a", "B"}, nil, `project in ("A","B") order by key asc`},
		{[]string{"TIME"}, []types.IssueKey{"TIME-1"}, `project in ("TIME") and issuekey in ("TIME-1") order by key asc`},
	}
	for _, tt := range tests {
		if got := IssuesJQL(tt.projects, tt.keys); got != tt.want {
			t.Errorf("IssuesJQL(%v, %v) = %q, want %q", tt.projects, tt.keys, got, tt.want)
		}
	}
}
