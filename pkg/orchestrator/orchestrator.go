// Package orchestrator runs generation requests across an ordered chain of
// providers, retrying transient failures and failing over on the rest.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/agent/middleware/metrics"
	"agentengine/pkg/agent/middleware/resilience/retry"
	"agentengine/pkg/faults"
	"agentengine/pkg/logx"
)

// Config controls the per-provider retry sub-algorithm.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool

	// HealthCheckConcurrency bounds HealthCheckAll; 0 probes all at once.
	HealthCheckConcurrency int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder reports failovers and health changes to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *logx.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSleeper replaces the backoff sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces time.Now for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator composes a fixed, ordered provider chain. The order is never
// changed by health: health is reported, not used for routing.
type Orchestrator struct {
	recorder  metrics.Recorder
	logger    *logx.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	health    map[string]*ProviderHealth
	lastUsed  string
	providers []llm.Provider
	config    Config
	mu        sync.RWMutex
}

// New creates an orchestrator. chain[0] is the primary provider; the rest are
// fallbacks in order. Provider names must be unique.
func New(chain []llm.Provider, cfg Config, opts ...Option) (*Orchestrator, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one provider")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	o := &Orchestrator{
		providers: append([]llm.Provider(nil), chain...),
		config:    cfg,
		health:    make(map[string]*ProviderHealth, len(chain)),
		recorder:  metrics.Nop(),
		logger:    logx.NewLogger("orchestrator"),
		now:       time.Now,
	}
	for _, p := range chain {
		if _, dup := o.health[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name())
		}
		o.health[p.Name()] = &ProviderHealth{Name: p.Name(), Status: StatusUnknown}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Providers returns the chain names in order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// policy retries provider's transient failures while the caller still waits.
func (o *Orchestrator) policy(ctx context.Context, provider string) *retry.Policy {
	p := retry.NewPolicy(retry.Config{
		MaxRetries: o.config.MaxRetries,
		BaseDelay:  o.config.BaseDelay,
		MaxDelay:   o.config.MaxDelay,
		Jitter:     o.config.Jitter,
	}, func(err error) bool {
		return ctx.Err() == nil && retry.ShouldRetry(err)
	})
	if o.sleep != nil {
		p.WithSleeper(o.sleep)
	}
	p.OnRetry = func(n int, err error, delay time.Duration) {
		o.logger.Info("%s: retry %d/%d in %v after %v", provider, n, o.config.MaxRetries, delay, err)
	}
	return p
}

// Generate walks the chain until some provider starts producing text.
//
// A provider is committed once it yields its first fragment (or completes
// empty). Failures before that are retried or failed over; a failure after it
// is delivered on the stream as-is, since text already reached the caller.
// When every provider fails, the error is AllProvidersExhausted carrying the
// last cause and the names tried.
func (o *Orchestrator) Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	tried := make([]string, 0, len(o.providers))
	var lastErr error

	for _, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // Context error propagated as-is
		}
		name := p.Name()
		tried = append(tried, name)

		var committed *commitment
		err := o.policy(ctx, name).Do(ctx, func(ctx context.Context, attempt int) error {
			c, err := o.attempt(ctx, p, req)
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return cerr //nolint:wrapcheck // Context error propagated as-is
				}
				logx.Debug(ctx, "orchestrator", "%s attempt %d failed: %v", name, attempt, err)
				o.recordFailure(name, err)
				return err
			}
			committed = c
			return nil
		})
		if err == nil {
			return o.relay(ctx, name, committed), nil
		}
		// The caller gave up or ran out of time; that says nothing about p.
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr //nolint:wrapcheck // Context error propagated as-is
		}

		lastErr = err
		o.recorder.IncFailover(name, faults.KindOf(err).String())
		o.logger.Warn("%s failed (%s), moving to next provider: %v", name, faults.KindOf(err), err)
	}

	return nil, faults.Exhausted(lastErr, tried)
}

// Complete is Generate followed by collecting the whole text.
func (o *Orchestrator) Complete(ctx context.Context, req llm.GenerateRequest) (string, error) {
	stream, err := o.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, stream)
}

// commitment is a provider stream whose first meaningful chunk has arrived.
type commitment struct {
	stream <-chan llm.StreamChunk
	cancel context.CancelFunc
	first  llm.StreamChunk
}

// attempt starts one generation and waits for its first fragment, completion
// or error. The attempt gets its own context so an abandoned stream stops.
func (o *Orchestrator) attempt(ctx context.Context, p llm.Provider, req llm.GenerateRequest) (*commitment, error) {
	attemptCtx, cancel := context.WithCancel(ctx)

	stream, err := p.Generate(attemptCtx, req)
	if err != nil {
		cancel()
		return nil, faults.Classify(err)
	}

	for {
		select {
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case chunk, ok := <-stream:
			switch {
			case !ok:
				chunk = llm.StreamChunk{Done: true}
			case chunk.Error != nil:
				cancel()
				return nil, faults.Classify(chunk.Error)
			case chunk.Content == "" && !chunk.Done:
				continue
			}
			return &commitment{stream: stream, cancel: cancel, first: chunk}, nil
		}
	}
}

// relay forwards a committed stream and settles health when it ends.
func (o *Orchestrator) relay(ctx context.Context, name string, c *commitment) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer c.cancel()

		chunk, ok := c.first, true
		for {
			if !ok {
				chunk = llm.StreamChunk{Done: true}
			}
			if chunk.Error != nil {
				if ctx.Err() == nil {
					o.recordFailure(name, chunk.Error)
				}
				o.logger.Warn("%s failed mid-stream: %v", name, chunk.Error)
				llm.Send(ctx, out, chunk)
				return
			}
			if chunk.Done {
				chunk.Provider = name
			}
			if !llm.Send(ctx, out, chunk) {
				return
			}
			if chunk.Done {
				o.recordSuccess(name, true)
				return
			}

			select {
			case <-ctx.Done():
				return
			case chunk, ok = <-c.stream:
			}
		}
	}()
	return out
}

// recordSuccess resets name's health; used marks it as the last provider
// that served a generation.
func (o *Orchestrator) recordSuccess(name string, used bool) {
	o.mu.Lock()
	h := o.health[name]
	h.success(o.now())
	if used {
		o.lastUsed = name
	}
	o.mu.Unlock()
	o.recorder.SetProviderHealth(name, string(StatusHealthy))
}

func (o *Orchestrator) recordFailure(name string, err error) {
	// Caller cancellation says nothing about the provider.
	if errors.Is(err, context.Canceled) {
		return
	}
	o.mu.Lock()
	h := o.health[name]
	h.failure(err, o.now())
	status := h.Status
	o.mu.Unlock()
	o.recorder.SetProviderHealth(name, string(status))
}

// HealthCheckAll probes every provider and folds the results into the health
// map. It returns the updated snapshot.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) []ProviderHealth {
	g, gctx := errgroup.WithContext(ctx)
	if o.config.HealthCheckConcurrency > 0 {
		g.SetLimit(o.config.HealthCheckConcurrency)
	}
	for _, p := range o.providers {
		g.Go(func() error {
			if p.HealthCheck(gctx) {
				o.recordSuccess(p.Name(), false)
				return nil
			}
			o.recordFailure(p.Name(), fmt.Errorf("health check failed"))
			return nil
		})
	}
	_ = g.Wait() // probes never return errors
	return o.Status()
}

// Status returns a copy of every provider's health, in chain order.
func (o *Orchestrator) Status() []ProviderHealth {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(o.providers))
	for _, p := range o.providers {
		out = append(out, *o.health[p.Name()])
	}
	return out
}

// Health returns one provider's health.
func (o *Orchestrator) Health(name string) (ProviderHealth, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.health[name]
	if !ok {
		return ProviderHealth{}, false
	}
	return *h, true
}

// LastUsed returns the provider that most recently completed a generation,
// or "" if none has.
func (o *Orchestrator) LastUsed() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastUsed
}
