// Package errs defines the error kinds shared across the trading engine.
// Callers classify failures with errors.Is rather than string matching.
package errs

import "errors"

var (
	// ErrDataUnavailable marks a metric or chain read that could not be
	// served. Scoring code recovers from it locally with sentinel values
	// and never propagates it past its own boundary.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidConfig marks configuration rejected at load or open time:
	// zero weight sums, ladders over 100%, unknown strategy names.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStateViolation marks an operation against a closed or unknown
	// position, or a double-open of the same (token, wallet) pair.
	ErrStateViolation = errors.New("state violation")

	// ErrExternalFailure marks a failed chain write or transaction revert.
	// Submissions are never retried automatically.
	ErrExternalFailure = errors.New("external failure")

	// ErrTimeout marks a bounded wait that elapsed without its condition,
	// distinct from both success and failure.
	ErrTimeout = errors.New("timed out")
)
