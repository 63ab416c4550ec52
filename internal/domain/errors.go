package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the market-data collaborator. The client must keep
// "ticker unknown" distinguishable from "no data in range".
var (
	// ErrUnknownTicker means the collaborator does not know the symbol at all.
	ErrUnknownTicker = errors.New("unknown ticker")
	// ErrNoData means the symbol exists but has no bars in the requested range.
	ErrNoData = errors.New("no data in range")
	// ErrRateLimited means the collaborator rejected the call for rate reasons.
	// Retried with backoff before being surfaced.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable means the collaborator could not be reached or answered
	// with a server error. Retried with backoff before being surfaced.
	ErrUnavailable = errors.New("market data unavailable")
)

// InvariantViolationError marks data that breaks a hard invariant, such as
// non-increasing price series dates. Fatal for that ticker's processing but
// never aborts the whole batch.
type InvariantViolationError struct {
	Ticker string
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.Ticker, e.Reason)
}

// IsInvariantViolation reports whether err wraps an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
