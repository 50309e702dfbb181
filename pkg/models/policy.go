package models

import "time"

// RetryStrategy determines how retry delays are computed between attempts.
type RetryStrategy string

const (
	// RetryNone disables retries entirely.
	RetryNone RetryStrategy = "none"
	// RetryImmediate retries with no delay.
	RetryImmediate RetryStrategy = "immediate"
	// RetryLinear grows the delay linearly with the attempt index.
	RetryLinear RetryStrategy = "linear"
	// RetryExponential doubles the delay with each attempt.
	RetryExponential RetryStrategy = "exponential"
)

// Valid returns true if the strategy is a known value.
func (s RetryStrategy) Valid() bool {
	switch s {
	case RetryNone, RetryImmediate, RetryLinear, RetryExponential:
		return true
	default:
		return false
	}
}

// ExecutionPolicy controls retries, backoff, and concurrency for a run.
type ExecutionPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
	// Strategy selects the backoff curve.
	Strategy RetryStrategy `json:"strategy" mapstructure:"strategy"`
	// BaseDelay is the base backoff delay.
	BaseDelay time.Duration `json:"base_delay" mapstructure:"base_delay"`
	// MaxDelay caps the computed delay for any attempt.
	MaxDelay time.Duration `json:"max_delay" mapstructure:"max_delay"`
	// Jitter adds a small random component to each delay.
	Jitter bool `json:"jitter" mapstructure:"jitter"`
	// Parallel enables batch-parallel execution instead of sequential.
	Parallel bool `json:"parallel" mapstructure:"parallel"`
	// MaxConcurrency bounds concurrent tasks within a batch.
	MaxConcurrency int `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		MaxRetries:     3,
		Strategy:       RetryExponential,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Jitter:         true,
		Parallel:       false,
		MaxConcurrency: 4,
	}
}
