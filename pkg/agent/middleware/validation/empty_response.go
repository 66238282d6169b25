// Package validation rejects provider output that cannot be used.
package validation

import (
	"context"
	"strings"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// EmptyResponseMiddleware turns a stream that completes without any
// non-whitespace text into a Generic failure, so the orchestrator retries or
// fails over instead of handing back a blank reply.
func EmptyResponseMiddleware() llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		name := next.Name()
		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			stream, err := next.Generate(ctx, req)
			if err != nil {
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			out := make(chan llm.StreamChunk)
			go func() {
				defer close(out)
				seen := false
				for chunk := range stream {
					if chunk.Done && !seen {
						llm.Send(ctx, out, llm.StreamChunk{Error: faults.New(faults.Generic, "empty response from "+name)})
						return
					}
					if strings.TrimSpace(chunk.Content) != "" {
						seen = true
					}
					if !llm.Send(ctx, out, chunk) {
						return
					}
				}
			}()
			return out, nil
		})
	}
}
