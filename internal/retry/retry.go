// Package retry implements the backoff policy for provider calls:
// exponential delay with jitter, clamped by provider-supplied retry hints.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/quorumlabs/quorum/internal/fault"
)

// Policy parameterizes the retry loop.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the standard policy: 3 retries, 1s base, 60s cap, jitter on.
func Default() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, Jitter: true}
}

// Delay computes the backoff before retry attempt n (0-based), honoring an
// optional provider hint. With jitter the base delay is scaled by U(0.5, 1.5).
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	// A provider hint overrides computed backoff when it asks for longer.
	if hint > d {
		d = hint
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a fatal error, or retries are
// exhausted. Only rate-limit, timeout and overloaded failures are retried;
// auth, model-not-found and unclassified errors fail fast.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !fault.Retryable(err) || attempt >= p.MaxRetries {
			return err
		}
		if serr := sleep(ctx, p.Delay(attempt, fault.RetryHintOf(err))); serr != nil {
			return serr
		}
	}
}
