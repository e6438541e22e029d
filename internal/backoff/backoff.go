// Package backoff retries operations with exponential delays.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy describes the delay before each retry.
type Policy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps any single delay. Zero means no cap.
	Max time.Duration
	// Factor multiplies the delay after each failure. Values below 1 are
	// treated as 1.
	Factor float64
	// Jitter adds up to this fraction of the delay at random (0.0 to 1.0).
	Jitter float64
}

// Delay returns the wait after the given failed attempt. Attempts start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := math.Max(p.Factor, 1)
	exp := math.Max(float64(attempt-1), 0)

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(total)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry calls fn up to attempts times, sleeping per policy between calls.
// It returns nil on the first success, ctx's error if ctx ends first, or
// fn's last error once attempts are used up. onFailure, when set, sees
// every failed attempt.
func Retry(ctx context.Context, policy Policy, attempts int, fn func(ctx context.Context, attempt int) error, onFailure func(attempt int, err error)) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, lastErr)
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}
		if attempt < attempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return errors.Join(err, lastErr)
			}
		}
	}
	return lastErr
}
