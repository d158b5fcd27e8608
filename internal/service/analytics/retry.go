package analytics

import (
	"context"
	"time"

	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
)

// Retrier re-runs an operation on transient failures with capped exponential backoff
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetrier returns the standard data store retry policy
func DefaultRetrier() Retrier {
	return Retrier{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// ShouldRetry reports whether err is transient
func ShouldRetry(err error) bool {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeNetwork,
		apperrors.ErrorTypeServiceUnavailable,
		apperrors.ErrorTypeRateLimited:
		return true
	default:
		return false
	}
}

// Delay returns the wait before the given retry, counting from 1
func (r Retrier) Delay(retry int) time.Duration {
	delay := r.BaseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// The last error is returned unchanged.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !ShouldRetry(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(r.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
