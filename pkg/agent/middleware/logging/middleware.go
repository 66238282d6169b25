// Package logging provides logging middleware for generation providers.
package logging

import (
	"context"
	"time"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/logx"
)

const promptExcerpt = 200

// Middleware logs every generation attempt once its stream ends. Failures are
// warnings; successful attempts are logged under the "llm" debug domain.
func Middleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}

	return func(next llm.Provider) llm.Provider {
		name := next.Name()
		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			start := time.Now()
			logx.Debug(ctx, "llm", "%s: generate stream=%t prompt=%q", name, req.Stream, excerpt(req.Prompt))

			stream, err := next.Generate(ctx, req)
			if err != nil {
				logger.Warn("%s: generate failed after %v: %v", name, time.Since(start), err)
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			return llm.Observe(ctx, stream, func(err error, text string) {
				if err != nil {
					logger.Warn("%s: stream failed after %v (%d chars delivered): %v", name, time.Since(start), len(text), err)
					return
				}
				logx.Debug(ctx, "llm", "%s: completed in %v (%d chars)", name, time.Since(start), len(text))
			}), nil
		})
	}
}

func excerpt(s string) string {
	if len(s) <= promptExcerpt {
		return s
	}
	return s[:promptExcerpt] + "..."
}
