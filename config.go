package syncrun

import (
	"time"
)

const (
	// DefaultMaxStreamRetries max attempts for a failing stream before the
	// run is considered errored
	DefaultMaxStreamRetries = 5
	// DefaultRateLimitMargin safety margin added on top of the reset delay
	// reported by the source
	DefaultRateLimitMargin = 30 * time.Second
	// DefaultOnboardingExitDelay how soon an onboarding run resumes after a
	// cooperative shutdown
	DefaultOnboardingExitDelay = 3 * time.Minute
	// DefaultErrorRetryDelay how soon a run with retryable stream errors is
	// re-attempted
	DefaultErrorRetryDelay = time.Minute
	// DefaultStreamRetryBackoff backoff window per prior retry before an
	// error stream re-enters the queue
	DefaultStreamRetryBackoff = 5 * time.Minute
	// DefaultStreamLogInterval progress log cadence, in streams
	DefaultStreamLogInterval = 50
)

// ProcessingConfig tunes the run processor. The zero value means defaults.
type ProcessingConfig struct {
	MaxStreamRetries    int
	RateLimitMargin     time.Duration
	OnboardingExitDelay time.Duration
	ErrorRetryDelay     time.Duration
	StreamRetryBackoff  time.Duration
	StreamLogInterval   int
}

func (c ProcessingConfig) withDefaults() ProcessingConfig {
	if c.MaxStreamRetries == 0 {
		c.MaxStreamRetries = DefaultMaxStreamRetries
	}
	if c.RateLimitMargin == 0 {
		c.RateLimitMargin = DefaultRateLimitMargin
	}
	if c.OnboardingExitDelay == 0 {
		c.OnboardingExitDelay = DefaultOnboardingExitDelay
	}
	if c.ErrorRetryDelay == 0 {
		c.ErrorRetryDelay = DefaultErrorRetryDelay
	}
	if c.StreamRetryBackoff == 0 {
		c.StreamRetryBackoff = DefaultStreamRetryBackoff
	}
	if c.StreamLogInterval == 0 {
		c.StreamLogInterval = DefaultStreamLogInterval
	}
	return c
}
