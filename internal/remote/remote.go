// Package remote turns Jira's offset-paginated endpoints into lazy
// sequences.
//
// A sequence returned by this package is finite and restartable: every range
// over it starts a fresh cursor at offset 0. Nothing here persists data or
// retries; transport errors are yielded to the caller and end the sequence.
package remote

import (
	"context"
	"iter"
	"log"
	"os"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// Page is one page of an offset-paginated listing.
type Page[T any] struct {
	Items      []T
	StartAt    int
	MaxResults int
	// Total is the size of the listing, or negative if the server did not
	// report it
	Total int
	// IsLast is set when the server marks the page as the final one
	IsLast bool
}

// Done reports whether no page follows this one, given the offset it was
// requested at. An empty page always ends the listing. A short page does
// not, since Jira may return fewer items than requested mid-listing.
func (p Page[T]) Done(requestedAt int) bool {
	if len(p.Items) == 0 || p.IsLast {
		return true
	}
	return p.Total >= 0 && requestedAt+len(p.Items) >= p.Total
}

// PageFunc requests the page starting at startAt.
type PageFunc[T any] func(ctx context.Context, startAt, maxResults int) (Page[T], error)

// Paginate returns a sequence over every item of a paginated listing.
//
// The context is checked before each page request. On error the sequence
// yields the zero value with the error and stops.
func Paginate[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		startAt := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := fetch(ctx, startAt, pageSize)
			if err != nil {
				yield(zero, err)
				return
			}

			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			if page.Done(startAt) {
				return
			}
			startAt += len(page.Items)
		}
	}
}

// Collect drains a sequence. It returns the items seen before the first
// error together with that error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Source is the paginated Jira API the fetcher reads from.
type Source interface {
	// WorklogPage returns worklogs of an issue started after startedAfter.
	WorklogPage(ctx context.Context, key types.IssueKey, startedAfter time.Time, startAt, maxResults int) (Page[types.Worklog], error)
	// SearchIssuesPage returns issues matching a JQL query.
	SearchIssuesPage(ctx context.Context, jql string, startAt, maxResults int) (Page[types.Issue], error)
}

// Config holds fetcher configuration.
type Config struct {
	// WorklogPageSize is the maxResults sent with worklog requests
	WorklogPageSize int

	// IssuePageSize is the maxResults sent with issue searches
	IssuePageSize int

	// Logger for fetcher events
	Logger *log.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		WorklogPageSize: 5000,
		IssuePageSize:   50,
	}
}

// Fetcher reads worklogs and issues from a Source.
type Fetcher struct {
	src    Source
	config Config
	logger *log.Logger
}

// New creates a fetcher with default configuration.
func New(src Source) *Fetcher {
	return NewWithConfig(src, DefaultConfig())
}

// NewWithConfig creates a fetcher with custom configuration.
func NewWithConfig(src Source, cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.WorklogPageSize <= 0 {
		cfg.WorklogPageSize = def.WorklogPageSize
	}
	if cfg.IssuePageSize <= 0 {
		cfg.IssuePageSize = def.IssuePageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Fetcher{src: src, config: cfg, logger: logger}
}

// Fetch returns the worklogs of an issue with started at or after since.
//
// Jira's startedAfter filter is applied one millisecond early and the bound
// is enforced here, so entries started exactly at since are included.
// Entries without an issue key get key.
func (f *Fetcher) Fetch(ctx context.Context, key types.IssueKey, since time.Time) iter.Seq2[types.Worklog, error] {
	after := since.Add(-time.Millisecond)
	pages := Paginate(ctx, f.config.WorklogPageSize,
		func(ctx context.Context, startAt, maxResults int) (Page[types.Worklog], error) {
			page, err := f.src.WorklogPage(ctx, key, after, startAt, maxResults)
			if err == nil {
				f.logger.Printf("%s: %d worklogs at offset %d", key, len(page.Items), startAt)
			}
			return page, err
		})

	return func(yield func(types.Worklog, error) bool) {
		for wl, err := range pages {
			if err != nil {
				yield(wl, err)
				return
			}
			if wl.Started.Before(since) {
				continue
			}
			if wl.IssueKey == "" {
				wl.IssueKey = key
			}
			if !yield(wl, nil) {
				return
			}
		}
	}
}

// Issues returns the issues matching a JQL query.
func (f *Fetcher) Issues(ctx context.Context, jql string) iter.Seq2[types.Issue, error] {
	return Paginate(ctx, f.config.IssuePageSize,
		func(ctx context.Context, startAt, maxResults int) (Page[types.Issue], error) {
			return f.src.SearchIssuesPage(ctx, jql, startAt, maxResults)
		})
}
