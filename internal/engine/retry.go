package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// maxBackoff caps the exponential wait between step retry attempts.
const maxBackoff = 10 * time.Second

// nonRetryableCodes lists error codes that never benefit from a retry:
// the same input fails the same way, or the run is already over.
var nonRetryableCodes = map[string]bool{
	schema.ErrCodeValidation:        true,
	schema.ErrCodeCancelled:         true,
	schema.ErrCodeRequiredStep:      true,
	schema.ErrCodeTimeBudget:        true,
	schema.ErrCodeInvalidTransition: true,
	schema.ErrCodeRetryExhausted:    true,
	schema.ErrCodeNotFound:          true,
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors, cancellation, and terminal pipeline codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context deadline exceeded is retryable (step timeout, not run-level).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled is NOT retryable: the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// FablerError classifies by code.
	var fbErr *schema.FablerError
	if errors.As(err, &fbErr) {
		return !nonRetryableCodes[fbErr.Code]
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"rate limit",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The retry budget limits attempts anyway.
	return true
}

// ComputeBackoff calculates the delay before retry attempt n (0-based):
// 2^n seconds, capped at maxBackoff.
func ComputeBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Second << uint(attempt)
	if delay <= 0 || delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if
// the context is cancelled. Returns an error if the context was cancelled
// during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
