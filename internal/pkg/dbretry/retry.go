// Package dbretry provides retry logic with exponential backoff and jitter
// for transient database failures (deadlocks, serialization conflicts,
// dropped connections). It is used around the import batch writes and job
// checkpoint updates so a flaky connection does not kill a multi-hour run.
package dbretry

import (
	"context"
	"database/sql/driver"
	"errors"
	"log"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Retryer executes database operations with bounded retries.
type Retryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New creates a Retryer. maxRetries is the number of retry attempts after
// the initial one (default 3 if <= 0).
func New(maxRetries int) *Retryer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Retryer{
		maxRetries: maxRetries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

// Do runs fn, retrying on transient database errors. Non-retryable errors
// (constraint violations, syntax errors, context cancellation) are returned
// immediately. op names the operation in retry logs.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		// Check if context is already canceled
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		}

		// Backoff before retry (skip on first attempt)
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			log.Printf("dbretry: retry attempt %d/%d for %s (waiting %s)",
				attempt, r.maxRetries, op, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return lastErr
				}
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		// If the context was canceled/expired, don't retry
		if ctx.Err() != nil {
			return err
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// calculateDelay returns the backoff duration for the given retry attempt.
// Uses exponential backoff with full jitter: random(0, min(maxDelay, baseDelay * 2^(attempt-1))).
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: baseDelay * 2^(attempt-1)
	expDelay := float64(r.baseDelay) * math.Pow(2, float64(attempt-1))

	// Cap at maxDelay
	if expDelay > float64(r.maxDelay) {
		expDelay = float64(r.maxDelay)
	}

	// Full jitter: random duration between 0 and the calculated delay
	jittered := time.Duration(rand.Float64() * expDelay)

	// Ensure a minimum delay of 10ms to avoid busy-looping
	if jittered < 10*time.Millisecond {
		jittered = 10 * time.Millisecond
	}

	return jittered
}

// IsRetryable reports whether err is a transient database error worth
// retrying. Retries: deadlocks (40P01), serialization failures (40001),
// connection-class errors (08xxx), too_many_connections (53300), bad
// driver connections, and network timeouts.
// Does NOT retry constraint violations or anything else that would fail
// the same way again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001": // serialization_failure
			return true
		case "40P01": // deadlock_detected
			return true
		case "53300": // too_many_connections
			return true
		}
		// Class 08: connection exceptions (connection_failure etc.)
		if pqErr.Code.Class() == "08" {
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// lib/pq surfaces some connection drops as plain errors
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe") {
		return true
	}

	return false
}
