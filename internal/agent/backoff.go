package agent

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with jitter. It is not safe for
// concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the fraction of the delay that is randomized, 0 to 1.
	Jitter float64

	attempt int
}

// NewBackoff returns a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, Jitter: 0.2}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	delay := b.Max
	if b.attempt < 62 && b.Initial <= b.Max>>b.attempt {
		delay = b.Initial << b.attempt
	}
	b.attempt++

	if b.Jitter > 0 {
		spread := float64(delay) * b.Jitter
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
	}
	return max(delay, 0)
}

// Reset starts over from Initial.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(done <-chan struct{}) bool {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
