package engine

import (
	"time"

	"github.com/taskpilot/taskpilot/pkg/models"
)

// jitterFraction is the width of the jitter window relative to BaseDelay.
const jitterFraction = 0.1

// RetryDelay computes the wait before retrying a task after its attempt
// with the given index failed (the first attempt is index 0). rnd must be
// a uniform sample in [0, 1); it is only consulted when the policy enables
// jitter, which adds up to jitterFraction of BaseDelay. The result is
// clamped to MaxDelay when MaxDelay is positive.
//
// The function is pure so the backoff curve can be tested exactly.
func RetryDelay(policy models.ExecutionPolicy, attempt int, rnd float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch policy.Strategy {
	case models.RetryNone:
		return 0
	case models.RetryImmediate:
		return 0
	case models.RetryLinear:
		delay = policy.BaseDelay * time.Duration(attempt+1)
	case models.RetryExponential:
		delay = policy.BaseDelay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				break // further doubling cannot escape the clamp
			}
		}
	default:
		return 0
	}

	if policy.Jitter {
		delay += time.Duration(rnd * jitterFraction * float64(policy.BaseDelay))
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after attempts
// tries under this policy.
func ShouldRetry(policy models.ExecutionPolicy, attempts int) bool {
	if policy.Strategy == models.RetryNone {
		return false
	}
	return attempts <= policy.MaxRetries
}
