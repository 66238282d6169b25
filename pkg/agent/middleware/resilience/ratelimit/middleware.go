package ratelimit

import (
	"context"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/agent/middleware/metrics"
)

// Middleware delays each generation until the provider's bucket admits it.
// Providers without a limiter pass straight through.
func Middleware(limiters *ProviderLimiterMap, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.Provider) llm.Provider {
		name := next.Name()
		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			limiter := limiters.Get(name)
			if limiter == nil {
				return next.Generate(ctx, req)
			}

			waited, err := limiter.Acquire(ctx)
			if waited > 0 {
				recorder.ObserveQueueWait(name, waited)
			}
			if err != nil {
				recorder.IncThrottle(name, "rate_limit")
				return nil, err
			}
			return next.Generate(ctx, req)
		})
	}
}
