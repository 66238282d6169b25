package llm

import (
	"context"
	"sync"
	"time"
)

// MockReply scripts one Generate call on a MockProvider.
type MockReply struct {
	Err       error         // Returned from Generate, or after Fragments if any were given
	Fragments []string      // Emitted in order
	Delay     time.Duration // Wait before the first fragment
}

// Text is shorthand for a successful single-fragment reply.
func Text(s string) MockReply {
	return MockReply{Fragments: []string{s}}
}

// Fail is shorthand for a reply that fails before emitting anything.
func Fail(err error) MockReply {
	return MockReply{Err: err}
}

// MockProvider is a scripted Provider for tests and offline runs.
type MockProvider struct {
	handler  func(req GenerateRequest) MockReply
	name     string
	replies  []MockReply
	requests []GenerateRequest
	mu       sync.Mutex
	calls    int
	inits    int
	healthy  bool
}

// NewMockProvider returns a provider that plays replies in order and then keeps
// repeating the last one.
func NewMockProvider(name string, replies ...MockReply) *MockProvider {
	return &MockProvider{name: name, replies: replies, healthy: true}
}

// NewMockProviderFunc returns a provider whose replies are computed per request.
func NewMockProviderFunc(name string, handler func(req GenerateRequest) MockReply) *MockProvider {
	return &MockProvider{name: name, handler: handler, healthy: true}
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return nil
}

// SetHealthy controls what HealthCheck reports.
func (m *MockProvider) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func (m *MockProvider) HealthCheck(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Calls returns how many times Generate was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) next(req GenerateRequest) MockReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.handler != nil {
		return m.handler(req)
	}
	if len(m.replies) == 0 {
		return MockReply{}
	}
	idx := m.calls - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx]
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	reply := m.next(req)
	if reply.Err != nil && len(reply.Fragments) == 0 && reply.Delay == 0 {
		return nil, reply.Err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-ctx.Done():
				Send(ctx, ch, StreamChunk{Error: ctx.Err()})
				return
			}
		}
		for _, f := range reply.Fragments {
			if !Send(ctx, ch, StreamChunk{Content: f}) {
				return
			}
		}
		if reply.Err != nil {
			Send(ctx, ch, StreamChunk{Error: reply.Err})
			return
		}
		Send(ctx, ch, StreamChunk{Done: true})
	}()
	return ch, nil
}
