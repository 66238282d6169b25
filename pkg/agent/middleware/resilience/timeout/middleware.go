// Package timeout bounds each provider attempt with its own deadline.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// Middleware gives every Generate call at most duration to finish streaming.
// Expiry of this deadline surfaces as TimedOut; expiry of the caller's own
// context is passed through untouched. A non-positive duration disables it.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		if duration <= 0 {
			return next
		}
		name := next.Name()

		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, duration)

			stream, err := next.Generate(attemptCtx, req)
			if err != nil {
				expired := ownDeadline(ctx, attemptCtx)
				cancel()
				if expired {
					return nil, timedOut(name, duration, err)
				}
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			out := make(chan llm.StreamChunk)
			go func() {
				defer close(out)
				defer cancel()
				for {
					select {
					case <-attemptCtx.Done():
						if ownDeadline(ctx, attemptCtx) {
							llm.Send(ctx, out, llm.StreamChunk{Error: timedOut(name, duration, attemptCtx.Err())})
						}
						return
					case chunk, ok := <-stream:
						if !ok {
							if ownDeadline(ctx, attemptCtx) {
								llm.Send(ctx, out, llm.StreamChunk{Error: timedOut(name, duration, attemptCtx.Err())})
							}
							return
						}
						if chunk.Error != nil && ownDeadline(ctx, attemptCtx) {
							chunk.Error = timedOut(name, duration, chunk.Error)
						}
						if !llm.Send(ctx, out, chunk) || chunk.Error != nil || chunk.Done {
							return
						}
					}
				}
			}()
			return out, nil
		})
	}
}

// ownDeadline reports whether attempt expired while the caller is still waiting.
func ownDeadline(parent, attempt context.Context) bool {
	return parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded)
}

func timedOut(provider string, d time.Duration, cause error) error {
	return faults.Wrap(faults.TimedOut, cause, fmt.Sprintf("%s did not finish within %v", provider, d))
}
