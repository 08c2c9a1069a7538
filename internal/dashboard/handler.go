package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache"
	tssync "github.com/timesheet-dev/timesheet/internal/sync"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// SyncCompleteData summarizes a finished sync
type SyncCompleteData struct {
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	User       string    `json:"user,omitempty"`
	Issues     int       `json:"issues"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Pruned     int       `json:"pruned"`
	Recovered  int       `json:"recovered"`
	Errors     []string  `json:"errors,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// SyncFailedData carries the error that aborted a sync
type SyncFailedData struct {
	Error string `json:"error"`
}

// TimerData describes one submitted timer
type TimerData struct {
	ID        int64     `json:"id"`
	IssueKey  string    `json:"issue_key"`
	StartedAt time.Time `json:"started_at"`
	Seconds   int       `json:"seconds"`
}

// TimersSyncedData lists submitted timers
type TimersSyncedData struct {
	Timers []TimerData `json:"timers"`
}

// ConfigChangedData names the reloaded file
type ConfigChangedData struct {
	Path string `json:"path"`
}

// StatsData contains cache row counts
type StatsData struct {
	Issues           int `json:"issues"`
	Worklogs         int `json:"worklogs"`
	Components       int `json:"components"`
	Users            int `json:"users"`
	Timers           int `json:"timers"`
	PendingDeletions int `json:"pending_deletions"`
}

// StatsSource reports cache row counts. *cache.Store implements it.
type StatsSource interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// Handler turns daemon events into dashboard messages.
type Handler struct {
	server  *Server
	source  StatsSource
	logger  *log.Logger
	timeout time.Duration

	mu         sync.Mutex
	stats      StatsData
	statsReady bool
}

// NewHandler creates a handler broadcasting on server. source may be nil, in
// which case no statistics are sent.
func NewHandler(server *Server, source StatsSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{
		server:  server,
		source:  source,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	server.SetWelcome(h.welcome)
	return h
}

// OnSyncComplete broadcasts the sync summary followed by fresh statistics.
func (h *Handler) OnSyncComplete(sum tssync.Summary, took time.Duration) {
	data := SyncCompleteData{
		Since:      sum.Since,
		Until:      sum.Until,
		User:       sum.User.DisplayName,
		Issues:     sum.Issues,
		Fetched:    sum.Fetched,
		Inserted:   sum.Inserted,
		Updated:    sum.Updated,
		Unchanged:  sum.Unchanged,
		Skipped:    sum.Skipped,
		Pruned:     sum.Pruned,
		Recovered:  sum.Recovered,
		DurationMS: took.Milliseconds(),
	}
	for _, f := range sum.Failures {
		data.Errors = append(data.Errors, f.Error())
	}
	h.send(MessageTypeSyncComplete, data)

	if sum.Changed() > 0 || sum.Recovered > 0 || !h.ready() {
		h.refreshStats()
	}
}

// OnSyncFailed broadcasts the error that aborted a sync.
func (h *Handler) OnSyncFailed(err error) {
	h.send(MessageTypeSyncFailed, SyncFailedData{Error: err.Error()})
}

// OnTimersSynced broadcasts the submitted timers.
func (h *Handler) OnTimersSynced(timers []types.Timer) {
	data := TimersSyncedData{Timers: make([]TimerData, 0, len(timers))}
	for _, t := range timers {
		td := TimerData{ID: t.ID, IssueKey: t.IssueKey.String(), StartedAt: t.StartedAt}
		if t.StoppedAt != nil {
			td.Seconds = int(t.StoppedAt.Sub(t.StartedAt).Round(time.Second) / time.Second)
		}
		data.Timers = append(data.Timers, td)
	}
	h.send(MessageTypeTimersSynced, data)
}

// OnConfigChanged broadcasts a config reload.
func (h *Handler) OnConfigChanged(path string) {
	h.send(MessageTypeConfigChanged, ConfigChangedData{Path: path})
}

// RefreshStats reads the cache statistics and broadcasts them.
func (h *Handler) RefreshStats(ctx context.Context) error {
	if h.source == nil {
		return nil
	}
	st, err := h.source.Stats(ctx)
	if err != nil {
		return err
	}
	data := StatsData{
		Issues:           st.Issues,
		Worklogs:         st.Worklogs,
		Components:       st.Components,
		Users:            st.Users,
		Timers:           st.Timers,
		PendingDeletions: st.Pending,
	}
	h.mu.Lock()
	h.stats = data
	h.statsReady = true
	h.mu.Unlock()

	h.send(MessageTypeStats, data)
	return nil
}

func (h *Handler) refreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.RefreshStats(ctx); err != nil {
		h.logger.Printf("WARNING: Failed to read cache stats: %v", err)
	}
}

// Stats returns the last statistics sent and whether any were.
func (h *Handler) Stats() (StatsData, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats, h.statsReady
}

func (h *Handler) ready() bool {
	_, ok := h.Stats()
	return ok
}

// welcome greets new clients with the latest statistics.
func (h *Handler) welcome() (Message, bool) {
	st, ok := h.Stats()
	if !ok {
		return Message{}, false
	}
	msg, err := message(MessageTypeStats, st)
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

func (h *Handler) send(typ MessageType, data any) {
	msg, err := message(typ, data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(msg)
}

func message(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}
