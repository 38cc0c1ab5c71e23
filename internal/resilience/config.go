package resilience

import "time"

const (
	DefaultMaxAttempts      = 3
	DefaultConnectBaseDelay = 2 * time.Second
	DefaultConnectMaxDelay  = 8 * time.Second

	DefaultReadyBudget = 5 * time.Second
	DefaultReadyStep   = 250 * time.Millisecond

	// Browser launches: after LaunchThreshold failed starts the scraper stops
	// spawning browsers for LaunchResetTimeout.
	LaunchThreshold         = 3
	LaunchResetTimeout      = 2 * time.Minute
	LaunchHalfOpenSuccesses = 1
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// LaunchBreakerConfig guards browser auto-launch.
func LaunchBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:         LaunchThreshold,
		ResetTimeout:      LaunchResetTimeout,
		HalfOpenSuccesses: LaunchHalfOpenSuccesses,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = LaunchThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = LaunchResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = LaunchHalfOpenSuccesses
	}
	return c
}
