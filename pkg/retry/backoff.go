package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff calculates exponential backoff durations with jitter
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator for the given policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the backoff duration for the given attempt (1-based).
// Full jitter keeps concurrent retries from synchronizing.
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(b.policy.InitialBackoff) * math.Pow(b.policy.Multiplier, float64(attempt-1))
	if backoff > float64(b.policy.MaxBackoff) {
		backoff = float64(b.policy.MaxBackoff)
	}

	return time.Duration(rand.Float64() * backoff)
}
