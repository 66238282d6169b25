package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

func TestRecordersAreIndependent(t *testing.T) {
	// Two recorders must not collide on registration.
	a := NewPrometheusRecorder("test")
	b := NewPrometheusRecorder("test")

	a.IncCache("hit")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.cacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cacheTotal.WithLabelValues("hit")))
}

func TestProviderHealthIsOneHot(t *testing.T) {
	r := NewPrometheusRecorder("test")
	r.SetProviderHealth("claude", "degraded")
	r.SetProviderHealth("claude", "healthy")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.providerHealth.WithLabelValues("claude", "healthy")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.providerHealth.WithLabelValues("claude", "degraded")))
}

func TestWriteText(t *testing.T) {
	r := NewPrometheusRecorder("engine")
	r.ObserveAction("search_jobs", StatusSuccess, 2, 150*time.Millisecond)
	r.SetCircuitState("claude", 1)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, `engine_action_executions_total{action="search_jobs",status="success"} 1`)
	assert.Contains(t, out, `engine_circuit_state{name="claude"} 1`)
	assert.Contains(t, out, "# TYPE engine_action_duration_seconds histogram")
}

func TestMiddlewareObservesStreamOutcome(t *testing.T) {
	r := NewPrometheusRecorder("test")
	base := llm.NewMockProvider("claude",
		llm.MockReply{Fragments: []string{"hello ", "world"}},
		llm.Fail(faults.New(faults.RateLimited, "slow down")),
	)
	p := llm.Chain(base, Middleware(r, nil, nil))

	stream, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "say hello"})
	require.NoError(t, err)
	text, err := llm.Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	for range stream {
	}

	_, err = p.Generate(context.Background(), llm.GenerateRequest{Prompt: "again"})
	require.True(t, faults.Is(err, faults.RateLimited))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.generationsTotal.WithLabelValues("claude", StatusSuccess, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.generationsTotal.WithLabelValues("claude", StatusError, "rate_limited")))
	assert.Greater(t, testutil.ToFloat64(r.tokensTotal.WithLabelValues("claude", "completion")), 0.0)
}

func TestDefaultUsageEstimator(t *testing.T) {
	prompt, completion := DefaultUsageEstimator(llm.GenerateRequest{SystemPrompt: "be brief", Prompt: "hi there"}, "hello")
	assert.Greater(t, prompt, 0)
	assert.Greater(t, completion, 0)
}

func TestNopRecorder(t *testing.T) {
	r := Nop()
	r.ObserveGeneration("p", StatusError, "generic", 0, 0, time.Second)
	r.IncFailover("p", "generic")
	r.ObserveTurn("full", StatusSuccess, time.Second)
}
