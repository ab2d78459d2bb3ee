// Package faults defines the run-level failure taxonomy for indexd.
//
// Every failure surfaced from a bootstrap run carries a Kind so callers
// can distinguish "ran out of budget" from "something broke" without
// matching on message substrings.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a bootstrap failure.
type Kind string

const (
	// KindBudgetExhausted means a governor limit was hit. Retryable by
	// resuming later or raising limits.
	KindBudgetExhausted Kind = "budget_exhausted"

	// KindProviderUnavailable means an external provider (embedding,
	// LLM) is down or unreachable.
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindProviderInvalidOutput means a provider responded with data the
	// pipeline cannot use (wrong vector dimension, empty result).
	KindProviderInvalidOutput Kind = "provider_invalid_output"

	// KindPhaseFatal means a precondition or postcondition gate failed.
	// Not retryable without fixing the underlying condition.
	KindPhaseFatal Kind = "phase_fatal_failure"

	// KindIngestionFailed means an ingestion batch was rejected during
	// validation or materialization. Zero items were persisted.
	KindIngestionFailed Kind = "ingestion_transaction_failed"

	// KindRecoveryStale means the workspace fingerprint drifted since the
	// last checkpoint and resume was not forced.
	KindRecoveryStale Kind = "recovery_state_stale"
)

// Error is a tagged failure with an optional structured detail payload.
type Error struct {
	Kind    Kind
	Message string

	// Details carries per-item diagnostics (e.g. ingestion validation
	// errors), may be nil.
	Details []string

	// Err is the wrapped cause, may be nil.
	Err error
}

// New creates a tagged error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches per-item diagnostics and returns the error.
func (e *Error) WithDetails(details []string) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a faults.Error of the same kind. This lets
// callers write errors.Is(err, &faults.Error{Kind: KindBudgetExhausted}).
func (e *Error) Is(target error) bool {
	var fe *Error
	if !errors.As(target, &fe) {
		return false
	}
	return fe.Kind == e.Kind
}

// KindOf extracts the Kind from an error chain. Returns "" when the chain
// carries no tagged error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
