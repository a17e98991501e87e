package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
)

// Policy defines retry behavior for work items
type Policy struct {
	MaxRetries        int           // Retry budget for items enqueued without one (0 = no retries)
	InitialDelay      time.Duration // Delay before the first retry (0 = immediately claimable)
	MaxDelay          time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g., 2.0)
}

// DefaultPolicy returns the default retry policy for work items
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        config.DefaultMaxRetries,
		InitialDelay:      config.DefaultRetryInitialDelay,
		MaxDelay:          config.DefaultRetryMaxDelay,
		BackoffMultiplier: 2.0,
	}
}

// PolicyFromConfig derives a policy from the queue configuration
func PolicyFromConfig(cfg config.QueueConfig) Policy {
	p := DefaultPolicy()
	p.MaxRetries = cfg.MaxRetries
	p.InitialDelay = cfg.RetryInitialDelay
	p.MaxDelay = cfg.RetryMaxDelay
	return p
}

// CalculateDelay calculates the delay before retry attempt retryCount (1-based)
// Uses unjittered exponential backoff capped at MaxDelay
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	if retryCount <= 1 {
		return p.InitialDelay
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffMultiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < retryCount; i++ {
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
		delay = b.NextBackOff()
	}
	return min(delay, p.MaxDelay)
}

// ShouldRetry reports whether an item that has already been retried
// retryCount times may be retried again under budget maxRetries
func ShouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay < 0 {
		return errors.New("InitialDelay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("MaxDelay cannot be negative")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}
