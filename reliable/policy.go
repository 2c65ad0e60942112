package reliable

import (
	"fmt"
	"time"
)

// Policy controls retransmission timing and abandonment.
type Policy struct {
	// Initial is the delay between tracking and the first retry.
	Initial time.Duration
	// Step is the per-attempt increment of the retry delay.
	Step time.Duration
	// Cap bounds the retry delay.
	Cap time.Duration
	// MaxAttempts is the number of retries after which a record is
	// abandoned. Zero retries forever.
	MaxAttempts int
}

// DefaultPolicy retries after 1s, then 1s, 2s, ... up to 8s, forever.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Step:        time.Second,
		Cap:         8 * time.Second,
		MaxAttempts: 0,
	}
}

// Validate reports policies that would schedule retries in the past or
// never back off.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("retry initial delay must be positive, got %v", p.Initial)
	}
	if p.Step <= 0 {
		return fmt.Errorf("retry step must be positive, got %v", p.Step)
	}
	if p.Cap < p.Step {
		return fmt.Errorf("retry cap %v is below step %v", p.Cap, p.Step)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative, got %d", p.MaxAttempts)
	}
	return nil
}

// Delay returns the wait after the given number of attempted retries.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.Initial
	}
	d := time.Duration(attempts) * p.Step
	if d > p.Cap {
		return p.Cap
	}
	return d
}
