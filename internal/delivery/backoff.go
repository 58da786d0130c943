package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the wait before the attempt following the given number of
// failed attempts: InitialBackoff * Multiplier^(failed-1), capped at MaxBackoff,
// randomized by ±Jitter.
func (c Config) retryDelay(failed int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.InitialBackoff),
		backoff.WithMultiplier(c.BackoffMultiplier),
		backoff.WithMaxInterval(c.MaxBackoff),
		backoff.WithRandomizationFactor(c.Jitter),
		backoff.WithMaxElapsedTime(0),
	)

	d := c.InitialBackoff
	for i := 0; i < failed; i++ {
		d = b.NextBackOff()
	}
	return d
}

// MaxRetryHorizon is the longest time a record can stay pending: every retry
// waiting its maximum jittered delay plus every attempt running to its timeout.
func (c Config) MaxRetryHorizon() time.Duration {
	var total time.Duration
	delay := float64(c.InitialBackoff)
	for i := 1; i < c.MaxAttempts; i++ {
		d := delay
		if d > float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
		}
		total += time.Duration(d * (1 + c.Jitter))
		delay *= c.BackoffMultiplier
	}
	return total + time.Duration(c.MaxAttempts)*c.SendTimeout
}
