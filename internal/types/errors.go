package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the cache, the Jira client, the
// synchronizer and the ownership guard matches exactly one of these with
// errors.Is:
//
//	if errors.Is(err, types.ErrNotOwner) {
//	    // refuse the mutation
//	}
var (
	// ErrNetwork is a transport failure or timeout talking to Jira.
	ErrNetwork = errors.New("network error")

	// ErrAuth means the credentials were rejected.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound means the remote entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when the acting user is not the author of the
	// worklog being mutated.
	ErrNotOwner = errors.New("not the owner of the worklog")

	// ErrSQL is a local store failure.
	ErrSQL = errors.New("local store error")

	// ErrLockPoisoned means a write transaction panicked while holding the
	// store handle. The handle must not be used again by this process.
	ErrLockPoisoned = errors.New("store handle poisoned by an earlier panic")

	// ErrBadInput is a caller-supplied invalid filter, id or value.
	ErrBadInput = errors.New("bad input")

	// ErrActiveTimerExists is returned when starting a timer while another
	// one is running.
	ErrActiveTimerExists = errors.New("an active timer already exists")

	// ErrNoActiveTimer is returned when stopping or discarding without a
	// running timer.
	ErrNoActiveTimer = errors.New("no active timer")

	// ErrTimerTooShort is returned when a timer would be submitted with less
	// than a minute on it.
	ErrTimerTooShort = errors.New("timer duration too short")
)

// Error attaches the operation and entity id to an error kind.
type Error struct {
	Kind error
	Op   string
	ID   string
	Err  error
}

// Wrap builds an *Error. A nil err yields an error that only carries kind.
func Wrap(kind error, op, id string, err error) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.ID)
	}
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsFatal returns true if the error means the local store is unusable.
// Synchronization aborts on these instead of recording them per entry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSQL) || errors.Is(err, ErrLockPoisoned)
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork)
}
