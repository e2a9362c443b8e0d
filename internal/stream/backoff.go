package stream

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff yields min(base*2^(n-1), cap) for attempts 1..max and then stops.
type Backoff struct {
	policy   backoff.BackOff
	attempts int
	max      int
}

func NewBackoff(base, maxDelay time.Duration, maxAttempts int) *Backoff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &Backoff{
		policy: backoff.WithMaxRetries(eb, uint64(maxAttempts)),
		max:    maxAttempts,
	}
}

// Next returns the delay before the next attempt, or false once the
// attempt ceiling has been reached.
func (b *Backoff) Next() (time.Duration, bool) {
	d := b.policy.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	b.attempts++
	return d, true
}

func (b *Backoff) Reset() {
	b.policy.Reset()
	b.attempts = 0
}

// Attempts is the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

func (b *Backoff) Max() int { return b.max }
