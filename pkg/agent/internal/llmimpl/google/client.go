// Package google implements llm.Provider on the Gemini API.
package google

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// GeminiProvider generates text with a Gemini model.
type GeminiProvider struct {
	client  *genai.Client
	name    string
	apiKey  string
	model   string
	baseURL string
	mu      sync.Mutex
}

// NewGeminiProvider creates a provider named name.
func NewGeminiProvider(name, apiKey, model, baseURL string) *GeminiProvider {
	// Client creation requires a context, so it is deferred to Initialize.
	return &GeminiProvider{
		name:    name,
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

func (g *GeminiProvider) Name() string {
	return g.name
}

func (g *GeminiProvider) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return nil
	}
	if g.apiKey == "" {
		return faults.New(faults.AuthFailed, "Gemini API key not configured for "+g.name)
	}

	cfg := &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return faults.Wrap(faults.Unavailable, err, "failed to create Gemini client")
	}
	g.client = client
	return nil
}

func generateConfig(req llm.GenerateRequest) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	//nolint:gosec // MaxTokens validated at config load
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.Temperature != nil {
		temperature := float32(*req.Temperature)
		cfg.Temperature = &temperature
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	return cfg
}

// Generate streams response text with GenerateContentStream, or makes a single
// GenerateContent call when streaming is not requested.
func (g *GeminiProvider) Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if err := g.Initialize(ctx); err != nil {
		return nil, err
	}
	contents := genai.Text(req.Prompt)
	cfg := generateConfig(req)

	if !req.Stream {
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return nil, classifyError(err)
		}
		if result == nil {
			return nil, faults.New(faults.Generic, "empty response from Gemini API")
		}
		return llm.Single(result.Text()), nil
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for result, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				llm.Send(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
				return
			}
			text := result.Text()
			if text == "" {
				continue
			}
			if !llm.Send(ctx, ch, llm.StreamChunk{Content: text}) {
				return
			}
		}
		llm.Send(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

// HealthCheck fetches the configured model's metadata.
func (g *GeminiProvider) HealthCheck(ctx context.Context) bool {
	if err := g.Initialize(ctx); err != nil {
		return false
	}
	_, err := g.client.Models.Get(ctx, g.model, nil)
	return err == nil
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return faults.FromStatus(apiErr.Code, err)
	}
	return faults.Classify(err)
}
