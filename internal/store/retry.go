package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// retryConfig holds the backoff schedule for transient store errors.
var retryConfig = struct {
	delays []time.Duration
}{
	delays: []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second},
}

// isTransient checks whether an error is worth retrying: network faults and
// server-side unavailability. gRPC surfaces these in the error message.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "transport") ||
		strings.Contains(msg, "internal") ||
		strings.Contains(msg, "503")
}

// withRetry executes fn up to len(retryConfig.delays)+1 times, retrying
// transient errors with exponential backoff starting at 500ms.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil || !isTransient(err) {
		return result, err
	}

	for i, delay := range retryConfig.delays {
		slog.Warn("store request failed, retrying",
			"operation", operation,
			"attempt", i+2,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil || !isTransient(err) {
			return result, err
		}
	}

	slog.Error("store retries exhausted", "operation", operation, "attempts", len(retryConfig.delays)+1)
	return result, err
}
