// Package resilience retries and short-circuits calls to the remote
// servers that publish the input datasets.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retry timing: exponential growth from Initial, capped at
// Max, with ±Jitter as a fraction of each delay.
type Backoff struct {
	// Attempts is the total number of tries including the first.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64
}

// DefaultBackoff suits bulk file downloads from government servers.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.25}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	d := float64(b.Initial) * math.Pow(2, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(max(d, 0))
}

// Retry calls fn until it succeeds, returns an error IsTransient rejects,
// the attempts run out or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()
	var zero T
	var lastErr error
	for attempt := range b.Attempts {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) || attempt == b.Attempts-1 {
			break
		}

		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		t := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, lastErr
		case <-t.C:
		}
	}
	return zero, lastErr
}
