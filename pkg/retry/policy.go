package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy defines retry behavior
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// RetryableFunc overrides the default error classification when set
	RetryableFunc func(error) bool
}

// DefaultPolicy returns a conservative policy for external API calls
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks the policy for invalid values
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %v", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff %v is below initial backoff %v", p.MaxBackoff, p.InitialBackoff)
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be at least 1.0, got %f", p.Multiplier)
	}
	return nil
}
