// Package reconnect decides whether and how long to wait between connection
// attempts, and when to give up permanently.
package reconnect

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// ErrMaxReconnectsExceeded is returned once the configured attempt budget is
// exhausted. It is the only terminal error the policy produces.
var ErrMaxReconnectsExceeded = errors.New("maximum reconnection attempts exceeded")

// Policy computes the delay before a given attempt. Attempts are numbered
// from 1.
type Policy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same configured duration before every attempt.
type FixedDelay struct {
	D time.Duration
}

func (f FixedDelay) Delay(int) time.Duration { return f.D }

// Exponential scales the delay per attempt, bounded by Max.
type Exponential struct {
	b *backoff.Backoff
}

// NewExponential builds an exponential policy. Factor values below 1 fall
// back to 2.
func NewExponential(min, max time.Duration, factor float64) *Exponential {
	if factor < 1 {
		factor = 2
	}
	return &Exponential{b: &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
	}}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return e.b.ForAttempt(float64(attempt - 1))
}

// Controller combines a delay policy with the give-up threshold.
type Controller struct {
	policy      Policy
	maxAttempts int // 0 = unlimited
}

// NewController creates a controller. maxAttempts of zero never gives up.
func NewController(policy Policy, maxAttempts int) *Controller {
	return &Controller{policy: policy, maxAttempts: maxAttempts}
}

// Check returns ErrMaxReconnectsExceeded once attempt exceeds the configured
// maximum: with a budget of N, reconnect attempts 1..N may proceed and the
// failure after the Nth retry is terminal.
func (c *Controller) Check(attempt int) error {
	if c.maxAttempts > 0 && attempt > c.maxAttempts {
		return ErrMaxReconnectsExceeded
	}
	return nil
}

// Delay returns the wait before the given attempt.
func (c *Controller) Delay(attempt int) time.Duration {
	return c.policy.Delay(attempt)
}

// Wait suspends until the delay for attempt elapses or ctx is cancelled.
// The context error is returned on cancellation.
func (c *Controller) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
