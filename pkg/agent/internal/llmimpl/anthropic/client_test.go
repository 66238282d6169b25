package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

func TestMissingKeyIsAuthFailure(t *testing.T) {
	p := NewClaudeProvider("claude", "", "claude-sonnet-4-5", "")

	_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.AuthFailed))
	assert.False(t, p.HealthCheck(context.Background()))
}

func TestInitializeIsIdempotent(t *testing.T) {
	p := NewClaudeProvider("claude", "test-key", "claude-sonnet-4-5", "")
	require.NoError(t, p.Initialize(context.Background()))
	first := p.client
	require.NoError(t, p.Initialize(context.Background()))
	assert.Same(t, first, p.client)
	assert.Equal(t, "claude", p.Name())
}

func TestParams(t *testing.T) {
	p := NewClaudeProvider("claude", "k", "claude-haiku-4-5", "")

	params := p.params(llm.GenerateRequest{Prompt: "hello", SystemPrompt: "be brief", Temperature: llm.Float(0.2)})
	assert.Equal(t, anthropic.Model("claude-haiku-4-5"), params.Model)
	assert.Equal(t, int64(llm.DefaultMaxTokens), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)
	assert.InDelta(t, 0.2, params.Temperature.Value, 1e-9)
	require.Len(t, params.Messages, 1)

	params = p.params(llm.GenerateRequest{Prompt: "hello", MaxTokens: 50})
	assert.Equal(t, int64(50), params.MaxTokens)
	assert.Empty(t, params.System)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want faults.Kind
	}{
		{&anthropic.Error{StatusCode: 401}, faults.AuthFailed},
		{&anthropic.Error{StatusCode: 429}, faults.RateLimited},
		{&anthropic.Error{StatusCode: 529}, faults.Unavailable},
		{&anthropic.Error{StatusCode: 500}, faults.Generic},
		{context.DeadlineExceeded, faults.TimedOut},
		{errors.New("dial tcp: connection refused"), faults.Unavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, faults.KindOf(classifyError(tt.err)))
	}
}
