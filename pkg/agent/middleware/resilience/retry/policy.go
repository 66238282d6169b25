// Package retry provides a bounded exponential-backoff executor parameterized by
// which failures are worth retrying.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"agentengine/pkg/faults"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxRetries    int           `json:"max_retries"`    // Retries after the first attempt
	BaseDelay     time.Duration `json:"base_delay"`     // Delay before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Cap on any single delay
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier per retry, 2 when unset
	Jitter        bool          `json:"jitter"`         // Spread delays by up to ±10%
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier: only TimedOut and Generic failures are
// retried, and never a cancelled caller.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return faults.IsRetryable(err)
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier

	// OnRetry is called before each backoff sleep with the retry number (1-based).
	OnRetry func(retry int, err error, delay time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
		sleep:      sleepCtx,
	}
}

// WithSleeper replaces the backoff sleep, for tests.
func (p *Policy) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Policy {
	p.sleep = sleep
	return p
}

// CalculateDelay returns the wait before retry n (0-based): BaseDelay·factor^n, capped.
func (p *Policy) CalculateDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := time.Duration(float64(p.Config.BaseDelay) * math.Pow(p.Config.BackoffFactor, float64(n)))
	if p.Config.MaxDelay > 0 && (delay > p.Config.MaxDelay || delay < 0) {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec // Jitter does not need crypto randomness
	}
	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do runs op until it succeeds, returns a non-retryable error, or MaxRetries
// retries are used up. attempt is 0 for the first call. The last error is
// returned unchanged so callers can still classify it.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.Config.MaxRetries || !p.ShouldRetry(err) {
			return err
		}

		delay := p.CalculateDelay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
