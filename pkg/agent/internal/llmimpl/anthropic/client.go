// Package anthropic implements llm.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// ClaudeProvider streams completions from Claude models.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeProvider struct {
	client  *anthropic.Client
	name    string
	model   anthropic.Model
	apiKey  string
	baseURL string
	mu      sync.Mutex
}

// NewClaudeProvider creates a provider named name. The SDK client is built on
// first use.
func NewClaudeProvider(name, apiKey, model, baseURL string) *ClaudeProvider {
	return &ClaudeProvider{
		name:    name,
		apiKey:  apiKey,
		model:   anthropic.Model(model),
		baseURL: baseURL,
	}
}

func (c *ClaudeProvider) Name() string {
	return c.name
}

// Initialize builds the SDK client. A missing key fails with AuthFailed so the
// orchestrator moves on without retrying.
func (c *ClaudeProvider) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	if c.apiKey == "" {
		return faults.New(faults.AuthFailed, "anthropic API key not configured for "+c.name)
	}

	opts := []option.RequestOption{option.WithAPIKey(c.apiKey), option.WithMaxRetries(0)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)
	c.client = &client
	return nil
}

func (c *ClaudeProvider) params(req llm.GenerateRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

// Generate streams text deltas as they arrive. Non-streaming requests use a
// single Messages call and deliver the whole text as one fragment.
func (c *ClaudeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	params := c.params(req)

	if !req.Stream {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyError(err)
		}
		var text string
		for i := range resp.Content {
			if block := &resp.Content[i]; block.Type == "text" {
				text += block.AsText().Text
			}
		}
		return llm.Single(text), nil
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !llm.Send(ctx, ch, llm.StreamChunk{Content: text.Text}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			llm.Send(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
			return
		}
		llm.Send(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

// HealthCheck lists models, which needs a valid key and a reachable API.
func (c *ClaudeProvider) HealthCheck(ctx context.Context) bool {
	if err := c.Initialize(ctx); err != nil {
		return false
	}
	_, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

// classifyError maps SDK errors onto the fault taxonomy, preferring the HTTP
// status the SDK reports over message text.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return faults.FromStatus(apiErr.StatusCode, err)
	}
	return faults.Classify(err)
}
