// Package openaiofficial implements llm.Provider on the official OpenAI Go SDK.
package openaiofficial

import (
	"context"
	"errors"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// OfficialProvider generates text through the Responses API.
//
//nolint:govet // Simple struct, field alignment not critical
type OfficialProvider struct {
	client  *openai.Client
	name    string
	model   string
	apiKey  string
	baseURL string
	mu      sync.Mutex
}

// NewOfficialProvider creates a provider named name. The SDK client is built on
// first use.
func NewOfficialProvider(name, apiKey, model, baseURL string) *OfficialProvider {
	return &OfficialProvider{
		name:    name,
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

func (o *OfficialProvider) Name() string {
	return o.name
}

func (o *OfficialProvider) Initialize(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return nil
	}
	if o.apiKey == "" {
		return faults.New(faults.AuthFailed, "OpenAI API key not configured for "+o.name)
	}

	opts := []option.RequestOption{option.WithAPIKey(o.apiKey), option.WithMaxRetries(0)}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	client := openai.NewClient(opts...)
	o.client = &client
	return nil
}

func (o *OfficialProvider) params(req llm.GenerateRequest) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
	}
	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

// Generate issues one Responses call and delivers the output text as a single
// fragment, whether or not streaming was requested.
func (o *OfficialProvider) Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if err := o.Initialize(ctx); err != nil {
		return nil, err
	}

	resp, err := o.client.Responses.New(ctx, o.params(req))
	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil {
		return nil, faults.New(faults.Generic, "empty response from OpenAI Responses API")
	}
	return llm.Single(resp.OutputText()), nil
}

// HealthCheck lists models, which needs a valid key and a reachable API.
func (o *OfficialProvider) HealthCheck(ctx context.Context) bool {
	if err := o.Initialize(ctx); err != nil {
		return false
	}
	_, err := o.client.Models.List(ctx)
	return err == nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return faults.FromStatus(apiErr.StatusCode, err)
	}
	return faults.Classify(err)
}
