// Package loadtest measures the cache under concurrent access.
//
// It fills a cache with a synthetic worklog history and runs status-style
// queries from many goroutines, optionally while a writer keeps upserting
// worklogs the way a sync does.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Dataset describes a populated cache.
type Dataset struct {
	Store     *cache.Store
	IssueKeys []types.IssueKey
	Authors   []string
	Worklogs  int
	Since     time.Time
}

// LatencyStats captures query latencies.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
}

// Populate adds numIssues issues with perIssue worklogs each, spread over the
// last 30 days and across four authors. The random source is fixed so runs
// are comparable.
func Populate(ctx context.Context, store *cache.Store, numIssues, perIssue int) (*Dataset, error) {
	if numIssues <= 0 || perIssue < 0 {
		return nil, fmt.Errorf("invalid dataset size: %d issues, %d worklogs per issue", numIssues, perIssue)
	}

	now := time.Now().Truncate(time.Minute)
	ds := &Dataset{
		Store:   store,
		Authors: []string{"acc-1", "acc-2", "acc-3", "acc-4"},
		Since:   now.AddDate(0, 0, -30),
	}

	issues := make([]types.Issue, numIssues)
	for i := range issues {
		key := types.IssueKey(fmt.Sprintf("LOAD-%d", i+1))
		issues[i] = types.Issue{
			Key:     key,
			ID:      fmt.Sprint(10000 + i),
			Summary: fmt.Sprintf("Load issue %d", i+1),
			Components: []types.Component{
				{ID: fmt.Sprint(i % 5), Name: fmt.Sprintf("component-%d", i%5)},
			},
		}
		ds.IssueKeys = append(ds.IssueKeys, key)
	}
	if err := store.AddIssues(ctx, issues); err != nil {
		return nil, fmt.Errorf("failed to add issues: %w", err)
	}

	rng := rand.New(rand.NewSource(42))
	wls := make([]types.LocalWorklog, 0, numIssues*perIssue)
	for i, is := range issues {
		for j := 0; j < perIssue; j++ {
			account := ds.Authors[rng.Intn(len(ds.Authors))]
			started := ds.Since.Add(time.Duration(rng.Int63n(int64(30 * 24 * time.Hour)))).Truncate(time.Minute)
			secs := (1 + rng.Intn(16)) * 15 * 60
			wls = append(wls, types.LocalWorklog{
				ID:               fmt.Sprintf("%d", 1+i*perIssue+j),
				IssueKey:         is.Key,
				IssueID:          is.ID,
				Author:           "User " + account,
				AuthorAccountID:  account,
				Created:          started,
				Updated:          started,
				Started:          started,
				TimeSpent:        fmt.Sprintf("%dm", secs/60),
				TimeSpentSeconds: secs,
				Comment:          "load",
			})
		}
	}
	n, err := store.AddWorklogs(ctx, wls)
	if err != nil {
		return nil, fmt.Errorf("failed to add worklogs: %w", err)
	}
	ds.Worklogs = n
	return ds, nil
}

// query runs one status-style lookup: one author's worklogs on a few issues.
func (ds *Dataset) query(ctx context.Context, rng *rand.Rand) ([]types.LocalWorklog, error) {
	keys := make([]types.IssueKey, 0, 3)
	for range 3 {
		keys = append(keys, ds.IssueKeys[rng.Intn(len(ds.IssueKeys))])
	}
	return ds.Store.FindWorklogs(ctx, cache.WorklogFilter{
		Since:            ds.Since,
		IssueKeys:        keys,
		AuthorAccountIDs: []string{ds.Authors[rng.Intn(len(ds.Authors))]},
	})
}

// RunConcurrentQueries runs queriesPerReader queries from each of numReaders
// goroutines and returns the latency distribution. Failed queries are counted
// in Errors; the first failure is also returned.
func (ds *Dataset) RunConcurrentQueries(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	results := make([][]time.Duration, numReaders)
	errCounts := make([]int, numReaders)

	var g errgroup.Group
	for i := 0; i < numReaders; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(i)))
			durations := make([]time.Duration, 0, queriesPerReader)
			var firstErr error
			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()
				_, err := ds.query(ctx, rng)
				durations = append(durations, time.Since(start))
				if err != nil {
					errCounts[i]++
					if firstErr == nil {
						firstErr = fmt.Errorf("reader %d query %d failed: %w", i, j, err)
					}
				}
			}
			results[i] = durations
			return firstErr
		})
	}
	err := g.Wait()

	var all []time.Duration
	errors := 0
	for i := range results {
		all = append(all, results[i]...)
		errors += errCounts[i]
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no queries completed")
	}
	stats := computeLatencyStats(all)
	stats.Errors = errors
	return stats, err
}

// VerifyConsistency runs numReaders readers alongside one writer for the
// given duration. The writer upserts new worklogs and rewrites existing ones;
// readers check that every row they see is complete and belongs to the
// author and issues they asked for. It returns the number of writes.
func (ds *Dataset) VerifyConsistency(ctx context.Context, numReaders int, duration time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	writes := 0

	g.Go(func() error {
		rng := rand.New(rand.NewSource(7))
		next := ds.Worklogs + 1
		for ctx.Err() == nil {
			key := ds.IssueKeys[rng.Intn(len(ds.IssueKeys))]
			started := ds.Since.Add(time.Duration(rng.Int63n(int64(30 * 24 * time.Hour)))).Truncate(time.Minute)
			wl := types.LocalWorklog{
				ID:               fmt.Sprint(next),
				IssueKey:         key,
				Author:           "User acc-1",
				AuthorAccountID:  "acc-1",
				Created:          started,
				Updated:          time.Now().Truncate(time.Second),
				Started:          started,
				TimeSpent:        "30m",
				TimeSpentSeconds: 1800,
			}
			if _, err := ds.Store.AddWorklog(ctx, wl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("writer failed: %w", err)
			}
			writes++
			next++
		}
		return nil
	})

	for i := 0; i < numReaders; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(100 + i)))
			for ctx.Err() == nil {
				keys := []types.IssueKey{ds.IssueKeys[rng.Intn(len(ds.IssueKeys))]}
				account := ds.Authors[rng.Intn(len(ds.Authors))]
				wls, err := ds.Store.FindWorklogs(ctx, cache.WorklogFilter{
					IssueKeys:        keys,
					AuthorAccountIDs: []string{account},
				})
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("reader %d failed: %w", i, err)
				}
				for _, wl := range wls {
					if err := wl.Validate(); err != nil {
						return fmt.Errorf("reader %d saw an invalid row: %w", i, err)
					}
					if wl.IssueKey != keys[0] || wl.AuthorAccountID != account {
						return fmt.Errorf("reader %d asked for %s by %s, got worklog %s on %s by %s",
							i, keys[0], account, wl.ID, wl.IssueKey, wl.AuthorAccountID)
					}
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return writes, err
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
	}
}

// Print writes the statistics as aligned lines.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
