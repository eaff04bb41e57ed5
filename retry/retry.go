// Package retry runs an operation again after transient failures, with
// exponential backoff and context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/solventlabs/x402pay"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // backoff growth factor
}

// DefaultConfig retries twice more after the initial attempt.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable decides whether an error is worth another attempt.
type IsRetryable func(error) bool

// Transient reports whether the error looks like a passing network
// condition rather than a protocol-level rejection. Payment rejections are
// final: a second identical payment would just spend twice.
func Transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var payErr *x402pay.PaymentError
	if errors.As(err, &payErr) {
		return payErr.Code == x402pay.ErrCodeNetworkError
	}
	return false
}

// Do runs fn until it succeeds, the error stops being retryable, attempts
// run out, or the context ends. Backoff grows by Multiplier up to MaxDelay.
func Do[T any](ctx context.Context, config Config, isRetryable IsRetryable, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
