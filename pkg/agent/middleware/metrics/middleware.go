package metrics

import (
	"context"
	"time"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
	"agentengine/pkg/logx"
	"agentengine/pkg/utils"
)

// UsageEstimator estimates prompt and completion tokens for one generation.
type UsageEstimator func(req llm.GenerateRequest, completion string) (promptTokens, completionTokens int)

// DefaultUsageEstimator counts tokens with the shared tiktoken counter.
func DefaultUsageEstimator(req llm.GenerateRequest, completion string) (promptTokens, completionTokens int) {
	counter := utils.DefaultCounter()
	promptTokens = counter.CountTokens(req.SystemPrompt) + counter.CountTokens(req.Prompt)
	completionTokens = counter.CountTokens(completion)
	return promptTokens, completionTokens
}

// Middleware records latency, estimated tokens and outcome for every generation.
// The observation is taken when the stream ends, not when it opens.
func Middleware(recorder Recorder, estimator UsageEstimator, logger *logx.Logger) llm.Middleware {
	if estimator == nil {
		estimator = DefaultUsageEstimator
	}

	return func(next llm.Provider) llm.Provider {
		name := next.Name()
		observe := func(req llm.GenerateRequest, start time.Time, err error, text string) {
			duration := time.Since(start)
			status, kind := StatusSuccess, ""
			if err != nil {
				status, kind = StatusError, faults.KindOf(err).String()
			}
			promptTokens, completionTokens := 0, 0
			if err == nil {
				promptTokens, completionTokens = estimator(req, text)
			}
			recorder.ObserveGeneration(name, status, kind, promptTokens, completionTokens, duration)

			if logger != nil {
				logger.Debug("generation provider=%s tokens=%d+%d status=%s kind=%s duration=%dms",
					name, promptTokens, completionTokens, status, kind, duration.Milliseconds())
			}
		}

		return llm.WrapGenerate(next, func(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
			start := time.Now()
			stream, err := next.Generate(ctx, req)
			if err != nil {
				observe(req, start, err, "")
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}
			return llm.Observe(ctx, stream, func(err error, text string) {
				observe(req, start, err, text)
			}), nil
		})
	}
}
