// Package jira is a small client for the Jira REST API endpoints used by
// timesheet: the current user, time-tracking configuration, issue search and
// the worklog CRUD endpoints.
//
// Errors are classified with the kinds in package types: transport failures
// and exhausted retries match types.ErrNetwork, 401/403 match types.ErrAuth,
// 404 matches types.ErrNotFound and other 4xx responses match
// types.ErrBadInput. Responses with status 429 or 503 are retried with
// exponential backoff, honouring Retry-After.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

var errNoDuration = errors.New("time spent must be positive")

// Config holds client configuration.
type Config struct {
	// BaseURL is the Jira host, e.g. https://example.atlassian.net
	BaseURL string

	// User is the login (usually an email address)
	User string

	// Token is the API token used as the basic-auth password
	Token string

	// APIVersion selects /rest/api/{version}: "2", "3" or "latest"
	APIVersion string

	// Timeout bounds every HTTP request
	Timeout time.Duration

	// MaxRetries is how many times a 429/503 response is retried
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles per attempt
	RetryBackoff time.Duration

	// HTTPClient overrides the transport (tests)
	HTTPClient *http.Client

	// Logger for client events
	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		APIVersion:   "latest",
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 300 * time.Millisecond,
	}
}

// Client talks to one Jira instance.
type Client struct {
	base    *url.URL
	user    string
	token   string
	api     string
	http    *http.Client
	retries int
	backoff time.Duration
	logger  *log.Logger
}

// New creates a client. The base URL must be absolute.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.Wrap(types.ErrBadInput, "create jira client", "", errors.New("jira URL is not configured"))
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, types.Wrap(types.ErrBadInput, "create jira client", cfg.BaseURL, fmt.Errorf("invalid jira URL: %v", err))
	}
	switch cfg.APIVersion {
	case "2", "3", "latest":
	default:
		return nil, types.Wrap(types.ErrBadInput, "create jira client", cfg.APIVersion, errors.New("api version must be 2, 3 or latest"))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[jira] ", log.LstdFlags)
	}

	return &Client{
		base:    base,
		user:    cfg.User,
		token:   cfg.Token,
		api:     cfg.APIVersion,
		http:    httpClient,
		retries: cfg.MaxRetries,
		backoff: cfg.RetryBackoff,
		logger:  logger,
	}, nil
}

// BaseURL returns the configured Jira host.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// apiURL builds /rest/api/{version}{path}?query.
func (c *Client) apiURL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/rest/api/" + c.api + path
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return types.Wrap(types.ErrBadInput, op, "", fmt.Errorf("failed to encode request: %w", err))
		}
		payload = b
	}
	target := c.apiURL(path, query)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			if ra, ok := retryAfter(lastErr); ok {
				delay = ra
			}
			c.logger.Printf("Retrying %s in %v (attempt %d/%d): %v", op, delay, attempt, c.retries, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return types.Wrap(types.ErrNetwork, op, "", err)
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return types.Wrap(types.ErrBadInput, op, "", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.user != "" || c.token != "" {
			req.SetBasicAuth(c.user, c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return types.Wrap(types.ErrNetwork, op, "", err)
		}

		err = c.handle(op, resp, out)
		if err == nil {
			return nil
		}
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		lastErr = err
	}

	return types.Wrap(types.ErrNetwork, op, "", fmt.Errorf("giving up after %d attempts: %w", c.retries+1, lastErr))
}

// handle maps a response to a decoded value or a classified error.
func (c *Client) handle(op string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Wrap(types.ErrNetwork, op, "", fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &retryableError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Wrap(types.ErrAuth, op, "", statusError(resp.StatusCode, raw))
	case resp.StatusCode == http.StatusNotFound:
		return types.Wrap(types.ErrNotFound, op, "", statusError(resp.StatusCode, raw))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.Wrap(types.ErrBadInput, op, "", statusError(resp.StatusCode, raw))
	case resp.StatusCode >= 500:
		return types.Wrap(types.ErrNetwork, op, "", statusError(resp.StatusCode, raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.Wrap(types.ErrNetwork, op, "", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// statusError formats a non-2xx response, preferring Jira's error messages.
func statusError(status int, body []byte) error {
	var ec errorCollection
	if err := json.Unmarshal(body, &ec); err == nil {
		if msg := ec.String(); msg != "" {
			return fmt.Errorf("status %d: %s", status, msg)
		}
	}
	text := truncate(strings.TrimSpace(string(body)), maxErrorText)
	if text == "" {
		return fmt.Errorf("status %d", status)
	}
	return fmt.Errorf("status %d: %s", status, text)
}

// maxErrorText bounds the response body quoted in an error, in bytes.
const maxErrorText = 200

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}

type retryableError struct {
	status     int
	retryAfter time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func retryAfter(err error) (time.Duration, bool) {
	var re *retryableError
	if errors.As(err, &re) && re.retryAfter > 0 {
		return re.retryAfter, true
	}
	return 0, false
}

// MaxRetryAfter caps the wait a Retry-After header can impose.
const MaxRetryAfter = time.Minute

// parseRetryAfter reads a Retry-After header given in seconds, capped at
// MaxRetryAfter.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > int(MaxRetryAfter/time.Second) {
		return MaxRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
