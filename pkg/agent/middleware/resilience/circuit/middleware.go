package circuit

import (
	"context"
	"errors"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// Middleware guards a provider with the registry's breaker for its name.
// If the circuit is OPEN, Generate fails with CircuitOpen without calling the
// provider. A stream counts as a success only once it completes cleanly.
func Middleware(registry *Registry) llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		breaker := registry.Get(next.Name())
		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			if err := breaker.Allow(); err != nil {
				return nil, err
			}

			stream, err := next.Generate(ctx, req)
			if err != nil {
				breaker.finish(ctx, err)
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			return llm.Observe(ctx, stream, func(err error, _ string) {
				breaker.finish(ctx, err)
			}), nil
		})
	}
}

// finish records the outcome of an admitted call. Caller cancellation, the
// caller's own deadline and bad input say nothing about the dependency's health.
func (b *Breaker) finish(ctx context.Context, err error) {
	switch {
	case err == nil:
		b.Record(true)
	case errors.Is(err, context.Canceled), callerExpired(ctx, err), faults.Is(err, faults.ValidationFailed):
		b.Abort()
	default:
		b.Record(false)
	}
}

// callerExpired reports whether err is ctx's own deadline rather than a
// failure of the dependency.
func callerExpired(ctx context.Context, err error) bool {
	cause := ctx.Err()
	return cause != nil && errors.Is(err, cause)
}
