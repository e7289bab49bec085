package fetch

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. The zero value never retries.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// ShouldRetry reports whether another attempt is warranted. attempt is
// zero-based, so attempt 0 failing with MaxRetries=2 allows two more tries.
func (p RetryPolicy) ShouldRetry(kind Kind, attempt int) bool {
	if kind != KindTransient {
		return false
	}
	return attempt < p.MaxRetries
}

// Backoff returns the jittered exponential delay before the given retry.
// The jitter is uniform in [delay/2, delay) to avoid synchronized bursts
// against the same host.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.Initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.Max {
			delay = p.Max
			break
		}
	}
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Sleep blocks for the backoff of the given attempt or until ctx is done.
func (p RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	d := p.Backoff(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
