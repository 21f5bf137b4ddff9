// Package retry wraps fallible operations with bounded
// exponential-backoff-with-jitter retries.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy parameterizes the retry behavior. Policies are values: they carry
// no state between invocations and are safe to copy and share.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// Do invokes op up to MaxRetries+1 times, sleeping the backoff delay between
// attempts. On exhaustion the last error is returned unchanged, never wrapped.
// Context cancellation during a backoff wait aborts with the context error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 0; ; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return last
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
}

// Delay returns the backoff before the retry that follows attempt (0-based):
// min(BaseDelay * 2^attempt, MaxDelay), scaled by a uniform random factor in
// [0.5, 1.5) when jitter is enabled, floored to an integer duration.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := p.BaseDelay
	// Shift with saturation so huge attempt counts cannot overflow.
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
		if d < 0 { // overflow
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter {
		factor := 0.5 + rand.Float64() // [0.5, 1.5)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
