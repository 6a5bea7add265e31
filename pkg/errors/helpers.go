package errors

import (
	"context"
	stderrors "errors"
)

// CheckContext returns an error if the context is canceled or timed out.
// This provides a standardized way to check and wrap context errors.
func CheckContext(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return Wrap(err, Canceled, operation+" canceled")
	}
	return nil
}

// CodeOf extracts the ErrorCode from an error chain, or Unknown if the
// chain contains no structured error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code()
	}
	return Unknown
}

// IsConflict reports whether the error is an optimistic-concurrency
// collision that the caller can resolve by recomputing against a fresh
// snapshot.
func IsConflict(err error) bool {
	return CodeOf(err) == ConflictDetected
}

// IsRetryable reports whether the gateway considers the error transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case Timeout, ProviderUnavailable, RateLimitExceeded:
		return true
	default:
		return false
	}
}
