// Package ratelimit throttles provider calls with a per-provider token bucket.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"agentengine/pkg/faults"
	"agentengine/pkg/logx"
)

// Config is the bucket for one provider. RequestsPerSecond <= 0 disables limiting.
type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// Stats is a point-in-time view of one limiter.
type Stats struct {
	Provider  string        `json:"provider"`
	Limit     float64       `json:"limit"`
	Burst     int           `json:"burst"`
	Throttled int64         `json:"throttled"`
	Waited    time.Duration `json:"waited"`
}

// Limiter admits calls for one provider.
type Limiter struct {
	bucket    *rate.Limiter
	provider  string
	throttled atomic.Int64
	waited    atomic.Int64
}

// NewLimiter creates a limiter for provider. A zero burst becomes 1.
func NewLimiter(provider string, cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		provider: provider,
		bucket:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Acquire blocks until a token is available. It returns how long the caller
// waited. If the wait cannot finish before ctx's deadline the call fails with
// RateLimited instead of sleeping into a timeout.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	if l.bucket.Allow() {
		return 0, nil
	}

	l.throttled.Add(1)
	logx.Debug(ctx, "ratelimit", "%s bucket empty, waiting", l.provider)

	start := time.Now()
	err := l.bucket.Wait(ctx)
	waited := time.Since(start)
	l.waited.Add(int64(waited))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return waited, ctxErr //nolint:wrapcheck // Context error propagated as-is
		}
		return waited, faults.Wrap(faults.RateLimited, err, "local rate limit for "+l.provider)
	}
	return waited, nil
}

// Stats returns the limiter's counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Provider:  l.provider,
		Limit:     float64(l.bucket.Limit()),
		Burst:     l.bucket.Burst(),
		Throttled: l.throttled.Load(),
		Waited:    time.Duration(l.waited.Load()),
	}
}

// ProviderLimiterMap holds one limiter per rate-limited provider.
type ProviderLimiterMap struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewProviderLimiterMap builds limiters for every entry with a positive rate.
func NewProviderLimiterMap(configs map[string]Config) *ProviderLimiterMap {
	m := &ProviderLimiterMap{limiters: make(map[string]*Limiter)}
	for name, cfg := range configs {
		m.Set(name, cfg)
	}
	return m
}

// Set installs or replaces the limiter for provider. A non-positive rate removes it.
func (m *ProviderLimiterMap) Set(provider string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.RequestsPerSecond <= 0 {
		delete(m.limiters, provider)
		return
	}
	m.limiters[provider] = NewLimiter(provider, cfg)
}

// Get returns the limiter for provider, or nil if it is unlimited.
func (m *ProviderLimiterMap) Get(provider string) *Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[provider]
}

// Stats returns counters for every limiter.
func (m *ProviderLimiterMap) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stats, 0, len(m.limiters))
	for _, l := range m.limiters {
		out = append(out, l.Stats())
	}
	return out
}
