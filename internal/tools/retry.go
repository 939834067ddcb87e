// internal/tools/retry.go
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// UpstreamError reports a failed call to an external service.
type UpstreamError struct {
	Service string
	Status  int
	Msg     string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Msg)
}

// Transient reports whether the failure is worth retrying: rate limits,
// server-side errors, and network failures (status 0).
func (e *UpstreamError) Transient() bool {
	return e.Status == 0 ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= http.StatusInternalServerError
}

// RetryPolicy retries transient upstream failures with exponential
// backoff and jitter. Non-transient errors fail immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

// DefaultRetryPolicy is the policy used by the provider adapters.
func DefaultRetryPolicy(logger *slog.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Logger:      logger,
	}
}

// Do runs fn, retrying while the error is a transient UpstreamError and
// attempts remain. Context cancellation stops the backoff wait.
func (p *RetryPolicy) Do(ctx context.Context, label string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var ue *UpstreamError
		if !errors.As(lastErr, &ue) || !ue.Transient() {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.BaseDelay << (attempt - 1)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay) / 2))

		p.Logger.Debug("retrying upstream call",
			"label", label,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
