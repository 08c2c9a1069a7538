package jira

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/timesheet-dev/timesheet/internal/remote"
	"github.com/timesheet-dev/timesheet/internal/types"
)

var _ remote.Source = (*Client)(nil)

// CurrentUser returns the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (types.User, error) {
	var u user
	if err := c.do(ctx, http.MethodGet, "/myself", nil, nil, &u); err != nil {
		return types.User{}, err
	}
	return types.User{
		AccountID:   u.AccountID,
		Email:       u.EmailAddress,
		DisplayName: u.DisplayName,
		TimeZone:    u.TimeZone,
	}, nil
}

// TimeTracking returns the instance's working hours per day and days per
// week. Zero values in the response fall back to the Jira defaults.
func (c *Client) TimeTracking(ctx context.Context) (types.TimeTracking, error) {
	var cfg configuration
	if err := c.do(ctx, http.MethodGet, "/configuration", nil, nil, &cfg); err != nil {
		return types.TimeTracking{}, err
	}
	tt := types.DefaultTimeTracking()
	if v := cfg.TimeTrackingConfiguration.WorkingHoursPerDay; v > 0 {
		tt.WorkingHoursPerDay = v
	}
	if v := cfg.TimeTrackingConfiguration.WorkingDaysPerWeek; v > 0 {
		tt.WorkingDaysPerWeek = v
	}
	return tt, nil
}

// SearchIssuesPage runs a JQL search and returns one page of issues with
// their summary and components.
func (c *Client) SearchIssuesPage(ctx context.Context, jql string, startAt, maxResults int) (remote.Page[types.Issue], error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "id,key,summary,components")

	var page issuePage
	if err := c.do(ctx, http.MethodGet, "/search", q, nil, &page); err != nil {
		return remote.Page[types.Issue]{}, err
	}

	items := make([]types.Issue, 0, len(page.Issues))
	for _, i := range page.Issues {
		items = append(items, i.toDomain())
	}
	return remote.Page[types.Issue]{
		Items:      items,
		StartAt:    page.StartAt,
		MaxResults: page.MaxResults,
		Total:      total(page.Total),
		IsLast:     page.IsLast != nil && *page.IsLast,
	}, nil
}

// Issue returns one issue with its summary and components.
func (c *Client) Issue(ctx context.Context, key types.IssueKey) (types.Issue, error) {
	q := url.Values{}
	q.Set("fields", "summary,components")

	var i issue
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key.String()), q, nil, &i); err != nil {
		return types.Issue{}, err
	}
	return i.toDomain(), nil
}

// WorklogPage returns one page of the worklogs of an issue started after
// startedAfter (millisecond precision).
func (c *Client) WorklogPage(ctx context.Context, key types.IssueKey, startedAfter time.Time, startAt, maxResults int) (remote.Page[types.Worklog], error) {
	q := url.Values{}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	if !startedAfter.IsZero() {
		q.Set("startedAfter", strconv.FormatInt(startedAfter.UnixMilli(), 10))
	}

	var page worklogPage
	if err := c.do(ctx, http.MethodGet, worklogPath(key, ""), q, nil, &page); err != nil {
		return remote.Page[types.Worklog]{}, err
	}

	items := make([]types.Worklog, 0, len(page.Worklogs))
	for _, wl := range page.Worklogs {
		items = append(items, wl.toDomain(key))
	}
	return remote.Page[types.Worklog]{
		Items:      items,
		StartAt:    page.StartAt,
		MaxResults: page.MaxResults,
		Total:      total(page.Total),
		IsLast:     page.IsLast != nil && *page.IsLast,
	}, nil
}

// Worklog returns a single worklog.
func (c *Client) Worklog(ctx context.Context, key types.IssueKey, id string) (types.Worklog, error) {
	var wl worklog
	if err := c.do(ctx, http.MethodGet, worklogPath(key, id), nil, nil, &wl); err != nil {
		return types.Worklog{}, err
	}
	return wl.toDomain(key), nil
}

// NewWorklog is the input for InsertWorklog.
type NewWorklog struct {
	Started          time.Time
	TimeSpentSeconds int
	Comment          string
}

// InsertWorklog creates a worklog on an issue and returns it as stored by
// Jira.
func (c *Client) InsertWorklog(ctx context.Context, key types.IssueKey, in NewWorklog) (types.Worklog, error) {
	if in.TimeSpentSeconds <= 0 {
		return types.Worklog{}, types.Wrap(types.ErrBadInput, "insert worklog", key.String(), errNoDuration)
	}
	body := worklogBody{
		Comment:          c.comment(in.Comment),
		Started:          in.Started.Format(TimeLayout),
		TimeSpentSeconds: in.TimeSpentSeconds,
	}

	var wl worklog
	if err := c.do(ctx, http.MethodPost, worklogPath(key, ""), nil, body, &wl); err != nil {
		return types.Worklog{}, err
	}
	return wl.toDomain(key), nil
}

// WorklogUpdate holds the fields to change; nil fields are left as they are.
type WorklogUpdate struct {
	Started          *time.Time
	TimeSpentSeconds *int
	Comment          *string
}

// UpdateWorklog changes a worklog and returns it as stored by Jira.
func (c *Client) UpdateWorklog(ctx context.Context, key types.IssueKey, id string, upd WorklogUpdate) (types.Worklog, error) {
	var body worklogBody
	if upd.Started != nil {
		body.Started = upd.Started.Format(TimeLayout)
	}
	if upd.TimeSpentSeconds != nil {
		if *upd.TimeSpentSeconds <= 0 {
			return types.Worklog{}, types.Wrap(types.ErrBadInput, "update worklog", id, errNoDuration)
		}
		body.TimeSpentSeconds = *upd.TimeSpentSeconds
	}
	if upd.Comment != nil {
		body.Comment = c.comment(*upd.Comment)
	}

	var wl worklog
	if err := c.do(ctx, http.MethodPut, worklogPath(key, id), nil, body, &wl); err != nil {
		return types.Worklog{}, err
	}
	return wl.toDomain(key), nil
}

// DeleteWorklog removes a worklog.
func (c *Client) DeleteWorklog(ctx context.Context, key types.IssueKey, id string) error {
	return c.do(ctx, http.MethodDelete, worklogPath(key, id), nil, nil, nil)
}

// comment encodes a comment for the configured API version.
func (c *Client) comment(text string) any {
	if text == "" {
		return nil
	}
	if c.api == "3" {
		return adfDocument(text)
	}
	return text
}

func worklogPath(key types.IssueKey, id string) string {
	p := "/issue/" + url.PathEscape(key.String()) + "/worklog"
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func total(t *int) int {
	if t == nil {
		return -1
	}
	return *t
}

// IssuesJQL builds the search for issues in the given projects and with the
// given keys. Either list may be empty.
func IssuesJQL(projects []string, keys []types.IssueKey) string {
	var clauses []string
	if len(projects) > 0 {
		quoted := make([]string, len(projects))
		for i, p := range projects {
			quoted[i] = quoteJQL(strings.ToUpper(strings.TrimSpace(p)))
		}
		clauses = append(clauses, "project in ("+strings.Join(quoted, ",")+")")
	}
	if len(keys) > 0 {
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = quoteJQL(k.String())
		}
		clauses = append(clauses, "issuekey in ("+strings.Join(quoted, ",")+")")
	}
	return strings.TrimSpace(strings.Join(clauses, " and ") + " order by key asc")
}

func quoteJQL(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
