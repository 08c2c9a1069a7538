package jira

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// TimeLayout is the timestamp format Jira reads and writes.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// Time decodes Jira timestamps, which use a colon-less UTC offset.
type Time struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04:05-0700", time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid Jira timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(TimeLayout))
}

// Comment holds a worklog comment. API v2 sends plain text, v3 sends an
// Atlassian Document Format tree whose text nodes are concatenated.
type Comment string

// UnmarshalJSON implements json.Unmarshaler.
func (c *Comment) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Comment(s)
		return nil
	}

	var doc adfNode
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("invalid comment document: %w", err)
	}
	var sb strings.Builder
	doc.text(&sb)
	*c = Comment(strings.TrimSpace(sb.String()))
	return nil
}

// adfNode is the subset of the Atlassian Document Format needed to read text.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Version int       `json:"version,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

func (n adfNode) text(sb *strings.Builder) {
	if n.Type == "text" {
		sb.WriteString(n.Text)
	}
	for _, child := range n.Content {
		child.text(sb)
	}
	if n.Type == "paragraph" {
		sb.WriteString("\n")
	}
}

// adfDocument wraps plain text in a single-paragraph document.
func adfDocument(text string) adfNode {
	doc := adfNode{Type: "doc", Version: 1}
	if text == "" {
		return doc
	}
	doc.Content = []adfNode{{
		Type:    "paragraph",
		Content: []adfNode{{Type: "text", Text: text}},
	}}
	return doc
}

type author struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName"`
}

type worklog struct {
	ID               string  `json:"id"`
	IssueID          string  `json:"issueId"`
	Author           author  `json:"author"`
	Created          Time    `json:"created"`
	Updated          Time    `json:"updated"`
	Started          Time    `json:"started"`
	TimeSpent        string  `json:"timeSpent"`
	TimeSpentSeconds int     `json:"timeSpentSeconds"`
	Comment          Comment `json:"comment"`
}

func (w worklog) toDomain(key types.IssueKey) types.Worklog {
	return types.Worklog{
		ID:       w.ID,
		IssueID:  w.IssueID,
		IssueKey: key,
		Author: types.Author{
			AccountID:   w.Author.AccountID,
			DisplayName: w.Author.DisplayName,
			Email:       w.Author.EmailAddress,
		},
		Created:          w.Created.Time,
		Updated:          w.Updated.Time,
		Started:          w.Started.Time,
		TimeSpent:        w.TimeSpent,
		TimeSpentSeconds: w.TimeSpentSeconds,
		Comment:          string(w.Comment),
	}
}

type worklogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      *int      `json:"total,omitempty"`
	IsLast     *bool     `json:"isLast,omitempty"`
	Worklogs   []worklog `json:"worklogs"`
}

type component struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary    string      `json:"summary"`
		Components []component `json:"components"`
	} `json:"fields"`
}

func (i issue) toDomain() types.Issue {
	comps := make([]types.Component, 0, len(i.Fields.Components))
	for _, c := range i.Fields.Components {
		comps = append(comps, types.Component{ID: c.ID, Name: c.Name})
	}
	return types.Issue{
		Key:        types.IssueKey(strings.ToUpper(i.Key)),
		ID:         i.ID,
		Summary:    i.Fields.Summary,
		Components: comps,
	}
}

type issuePage struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      *int    `json:"total,omitempty"`
	IsLast     *bool   `json:"isLast,omitempty"`
	Issues     []issue `json:"issues"`
}

type user struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
	TimeZone     string `json:"timeZone"`
}

type configuration struct {
	TimeTrackingEnabled       bool `json:"timeTrackingEnabled"`
	TimeTrackingConfiguration struct {
		WorkingHoursPerDay float64 `json:"workingHoursPerDay"`
		WorkingDaysPerWeek float64 `json:"workingDaysPerWeek"`
	} `json:"timeTrackingConfiguration"`
}

// worklogBody is the request body for creating and updating worklogs.
type worklogBody struct {
	Comment          any    `json:"comment,omitempty"`
	Started          string `json:"started,omitempty"`
	TimeSpentSeconds int    `json:"timeSpentSeconds,omitempty"`
}

// errorCollection is the error body Jira returns with 4xx responses.
type errorCollection struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

func (e errorCollection) String() string {
	msgs := append([]string(nil), e.ErrorMessages...)
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		msgs = append(msgs, field+": "+e.Errors[field])
	}
	return strings.Join(msgs, "; ")
}
