package google

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

func TestMissingKeyIsAuthFailure(t *testing.T) {
	p := NewGeminiProvider("gemini", "", "gemini-2.5-flash", "")

	_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AuthFailed))
	assert.False(t, p.HealthCheck(context.Background()))
	assert.Equal(t, "gemini", p.Name())
}

func TestGenerateConfig(t *testing.T) {
	cfg := generateConfig(llm.GenerateRequest{SystemPrompt: "be brief", Temperature: llm.Float(0.5), MaxTokens: 99})
	assert.Equal(t, int32(99), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 1e-6)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)

	cfg = generateConfig(llm.GenerateRequest{})
	assert.Equal(t, int32(llm.DefaultMaxTokens), cfg.MaxOutputTokens)
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.SystemInstruction)
}

func TestClassifyError(t *testing.T) {
	assert.True(t, faults.Is(classifyError(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}), faults.RateLimited))
	assert.True(t, faults.Is(classifyError(genai.APIError{Code: 401}), faults.AuthFailed))
	assert.True(t, faults.Is(classifyError(genai.APIError{Code: 503}), faults.Unavailable))
	assert.True(t, faults.Is(classifyError(errors.New("context deadline exceeded")), faults.TimedOut))
}
