// Package ollama implements llm.Provider for a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"agentengine/pkg/agent/llm"
	"agentengine/pkg/faults"
)

// DefaultHost is used when no host URL is configured.
const DefaultHost = "http://localhost:11434"

// Provider streams chat completions from an Ollama model.
type Provider struct {
	client  *api.Client
	name    string
	model   string
	hostURL string
	mu      sync.Mutex
}

// NewProvider creates a provider named name talking to hostURL.
func NewProvider(name, hostURL, model string) *Provider {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	return &Provider{name: name, model: model, hostURL: hostURL}
}

func (o *Provider) Name() string {
	return o.name
}

func (o *Provider) Initialize(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return nil
	}
	parsed, err := url.Parse(o.hostURL)
	if err != nil || parsed.Host == "" {
		return faults.New(faults.ValidationFailed, fmt.Sprintf("invalid Ollama host %q", o.hostURL))
	}
	o.client = api.NewClient(parsed, http.DefaultClient)
	return nil
}

func (o *Provider) chatRequest(req llm.GenerateRequest) *api.ChatRequest {
	messages := make([]api.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := req.Stream
	return &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

// Generate relays each chat response as a fragment. The Ollama client drives
// the callback from its own read loop, so the call runs in a goroutine.
func (o *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if err := o.Initialize(ctx); err != nil {
		return nil, err
	}
	chatReq := o.chatRequest(req)

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			if !llm.Send(ctx, ch, llm.StreamChunk{Content: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			llm.Send(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
			return
		}
		llm.Send(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

// HealthCheck pings the server root.
func (o *Provider) HealthCheck(ctx context.Context) bool {
	if err := o.Initialize(ctx); err != nil {
		return false
	}
	return o.client.Heartbeat(ctx) == nil
}

// classifyError converts Ollama errors to the fault taxonomy. A missing model
// is a request problem, not an outage.
func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return faults.NewWithStatus(faults.ValidationFailed, statusErr.StatusCode, "Ollama model not found: "+statusErr.ErrorMessage)
		}
		return faults.FromStatus(statusErr.StatusCode, err)
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return faults.Wrap(faults.ValidationFailed, err, "Ollama model not found")
	case strings.Contains(errStr, "connection refused"):
		return faults.Wrap(faults.Unavailable, err, "Ollama server not reachable")
	}
	return faults.Classify(err)
}
