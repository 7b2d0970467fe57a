package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrDuplicateItem is raised by a store insert on an existing fingerprint and
	// swallowed by InsertIfNew.
	ErrDuplicateItem = errors.New("item already exists")
	// ErrItemNotFound is returned when a fingerprint has no row.
	ErrItemNotFound = errors.New("item not found")
	// ErrDigestNotFound is returned when no digest exists for a run date.
	ErrDigestNotFound = errors.New("digest not found")
	// ErrDigestStatusChanged means a conditional digest status update lost a race.
	ErrDigestStatusChanged = errors.New("digest status changed concurrently")
	// ErrRedeliveryRequired means the run date's digest already failed delivery and only an
	// explicit redeliver may send it.
	ErrRedeliveryRequired = errors.New("digest delivery failed earlier, redeliver required")
)

// StaleStateError reports a conditional stage update whose expected prior stage no longer holds.
type StaleStateError struct {
	Fingerprint string
	Expected    Stage
	Actual      Stage
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("item %s: expected stage %s, found %s", e.Fingerprint, e.Expected, e.Actual)
}

// IllegalTransitionError is returned for moves the transition table forbids.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// DuplicateDigestError means the run date already has a digest.
type DuplicateDigestError struct {
	RunDate RunDate
}

func (e *DuplicateDigestError) Error() string {
	return fmt.Sprintf("digest for %s already exists", e.RunDate)
}

// DeliveryError wraps a delivery adapter failure for a run date.
type DeliveryError struct {
	RunDate RunDate
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver digest %s: %v", e.RunDate, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TransientAdapterError marks an adapter failure worth retrying (timeouts, rate limits).
type TransientAdapterError struct {
	Err error
}

func (e *TransientAdapterError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientAdapterError) Unwrap() error { return e.Err }

// PermanentAdapterError marks an adapter failure that will not succeed on retry.
type PermanentAdapterError struct {
	Err error
}

func (e *PermanentAdapterError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentAdapterError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientAdapterError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientAdapterError{Err: err}
}

// Permanent wraps err as a PermanentAdapterError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentAdapterError{Err: err}
}

// IsPermanent reports whether err was classified as permanent.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var perm *PermanentAdapterError
	return errors.As(err, &perm)
}

// ClassifyHTTPStatus turns a non-2xx response into a classified adapter error.
func ClassifyHTTPStatus(status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("status %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
