package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Backoff schedules: 429 backs off harder than 5xx. Vars so tests can
// shrink the delays.
var (
	rateLimitDelays   = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	serverErrorDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
)

// doWithRetry runs one provider call with the retry policy:
// 429 → backoff 2s/4s/8s, 5xx → 1s/2s/4s, other 4xx fail fast.
// No new attempt starts after the context is cancelled.
func doWithRetry[T any](ctx context.Context, operation string, fn func() (T, int, error)) (T, error) {
	var zero T

	result, status, err := fn()
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < len(rateLimitDelays); attempt++ {
		var delay time.Duration
		switch {
		case status == http.StatusTooManyRequests:
			delay = rateLimitDelays[attempt]
		case status >= 500 || status == 0: // 0 = transport error, no response
			delay = serverErrorDelays[attempt]
		default:
			// Other 4xx and parse errors are not retryable here.
			return zero, err
		}

		slog.Warn("llm request failed, retrying",
			"operation", operation,
			"status", status,
			"attempt", attempt+2,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return zero, model.NewError(model.KindDeadlineExceeded, operation, "cancelled during retry", ctx.Err())
		case <-time.After(delay):
		}

		result, status, err = fn()
		if err == nil {
			return result, nil
		}
	}

	slog.Error("llm retries exhausted", "operation", operation, "status", status)
	return zero, model.NewError(model.KindUpstreamUnavailable, operation, "retries exhausted", err)
}
