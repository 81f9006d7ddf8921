package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// retryableStatus is the response-code set that warrants another
// attempt: request timeout, locked, throttled, and the transient 5xx
// family.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusLocked:              true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// statusError carries a retry-worthy HTTP status through the retry
// loop.
type statusError struct {
	Status string
	Code   int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// RetryPolicy wraps an HTTP request in a per-attempt timeout and a
// status/exception retry loop. With N retries at most N+1 attempts are
// made.
type RetryPolicy struct {
	// MaxRetries bounds the retry count; the first attempt is not a
	// retry. Negative means zero.
	MaxRetries int
	// AttemptTimeout bounds a single attempt. Zero applies the
	// default.
	AttemptTimeout time.Duration
	// Delay computes the sleep before retry number attempt (1-based).
	// Nil selects the exponential default of 2^attempt seconds.
	Delay func(attempt int) time.Duration
	// OnRetry observes each scheduled retry. Nil logs through slog.
	OnRetry func(err error, delay time.Duration, attempt int)

	Logger *slog.Logger
}

const (
	defaultMaxRetries     = 3
	defaultAttemptTimeout = 600 * time.Second
)

func (p RetryPolicy) maxRetries() int {
	if p.MaxRetries < 0 {
		return 0
	}
	if p.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return p.MaxRetries
}

func (p RetryPolicy) attemptTimeout() time.Duration {
	if p.AttemptTimeout <= 0 {
		return defaultAttemptTimeout
	}
	return p.AttemptTimeout
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Delay != nil {
		return p.Delay(attempt)
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func (p RetryPolicy) notify(err error, delay time.Duration, attempt int) {
	if p.OnRetry != nil {
		p.OnRetry(err, delay, attempt)
		return
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("retrying download", "err", err, "delay", delay, "attempt", attempt)
}

// Execute runs fn until it succeeds, the retry budget is spent, or the
// error is not retryable. fn receives a context bounded by the
// per-attempt timeout. Cancellation of the outer context always
// propagates and is never retried.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	retries := p.maxRetries()
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout())
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= retries || !isRetryable(err) {
			return err
		}
		next := attempt + 1
		delay := p.delay(next)
		p.notify(err, delay, next)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isRetryable(err error) bool {
	var status statusError
	if errors.As(err, &status) {
		return retryableStatus[status.Code]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// The attempt timed out; the outer context is still live.
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
