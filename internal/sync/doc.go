// Package sync reconciles the local worklog cache with Jira.
//
// Overview
//
// A Synchronizer reads worklogs from Jira through a remote.Fetcher and
// upserts them into the cache by worklog id. Jira is the source of truth; the
// cache is a derived copy that can be rebuilt from scratch at any time.
//
// Architecture
//
//	Jira REST API
//	     ├── /myself                 → current user (flagged in the cache)
//	     ├── /search                 → issues of the requested projects
//	     └── /issue/{key}/worklog    → worklogs started in [since, now)
//	                                      ↓
//	                                Synchronizer
//	                                      ↓
//	                                 cache.Store
//
// Usage
//
//	store, err := cache.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	client, err := jira.New(jiraCfg)
//	if err != nil {
//	    return err
//	}
//
//	s := sync.New(store, remote.New(client), client, sync.DefaultConfig())
//	summary, err := s.Synchronize(ctx, sync.Request{Projects: []string{"TIME"}})
//
// Scope
//
// The issues to synchronize come from Request.IssueKeys, from a search of
// Request.Projects, or, when neither is given, from the issue keys already
// present in the cache. An empty scope returns ErrNothingToSync.
//
// Deletion
//
// A plain run never deletes cached worklogs. With Request.Prune set, worklogs
// cached for an issue inside the window that Jira no longer returns are
// removed, but only for issues whose listing completed without error.
//
// Error Handling
//
// Failures of a single issue or worklog are collected in Summary.Failures and
// the run continues with the next issue. Local store failures (types.ErrSQL,
// types.ErrLockPoisoned) and context cancellation end the run immediately;
// everything committed before that point stays.
package sync
