package gateway

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/stripe/stripe-go/v75"
)

// IsTransient reports whether err is worth retrying: rate limits, provider
// 5xx responses and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode == 429 || serr.HTTPStatusCode >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Backoff configures WithRetry.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

var DefaultBackoff = Backoff{Attempts: 5, Initial: 500 * time.Millisecond, Max: 8 * time.Second}

// Delay returns the wait before retry n (0-based), doubling up to Max.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// WithRetry runs fn until it succeeds, fails permanently or runs out of
// attempts.
func WithRetry[T any](ctx context.Context, b Backoff, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(b.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(b.Delay(i)):
		}
	}
	return zero, err
}
