// Package retry holds the waiting logic shared by loops that try an operation again after a failure.
package retry

import (
	"context"
	"time"
)

// Sleep waits for d, returning ctx.Err() early if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CappedExponentialBackoff multiplies current by factor, never exceeding maxBackoff.
func CappedExponentialBackoff(current time.Duration, factor float64, maxBackoff time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > maxBackoff || next <= 0 {
		return maxBackoff
	}

	return next
}

// Backoff tracks the wait between attempts: it starts at initial, grows by factor after each failure up
// to maxBackoff, and goes back to initial after a success.
type Backoff struct {
	initial    time.Duration
	factor     float64
	maxBackoff time.Duration
	current    time.Duration
}

func NewBackoff(initial time.Duration, factor float64, maxBackoff time.Duration) *Backoff {
	return &Backoff{
		initial:    initial,
		factor:     factor,
		maxBackoff: maxBackoff,
		current:    initial,
	}
}

// Failed returns the wait before the next attempt and grows it for the one after.
func (b *Backoff) Failed() time.Duration {
	wait := b.current
	b.current = CappedExponentialBackoff(b.current, b.factor, b.maxBackoff)

	return wait
}

func (b *Backoff) Succeeded() {
	b.current = b.initial
}
