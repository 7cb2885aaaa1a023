package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff returns the delay before retry number attempt (1-based): initial,
// doubling each attempt, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
