// Package llm defines the generation provider contract shared by every backend,
// plus helpers for composing and consuming provider streams.
package llm

import (
	"context"
	"strings"
)

// Generation defaults used when a request leaves them unset.
const (
	DefaultMaxTokens = 1024

	TemperatureDefault = 0.7

	// TemperatureDeterministic is used for structured-output calls.
	TemperatureDeterministic = 0.2
)

// GenerateRequest is one generation call.
type GenerateRequest struct {
	Temperature  *float64 // nil = backend default
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Stream       bool // false = backend may deliver the whole text as one chunk
}

// StreamChunk is one element of a generation sequence. A chunk with Error set
// is terminal; so is a chunk with Done set.
type StreamChunk struct {
	Error    error
	Content  string
	Provider string // set on the Done chunk by the orchestrator
	Done     bool
}

// Provider is one backend generation endpoint.
//
// Generate returns a lazy, non-restartable sequence: the channel yields text
// fragments in generation order and is closed after a Done or Error chunk.
// Failures must be classified into the faults taxonomy. Consumers that stop
// early must cancel ctx so the producer can exit.
type Provider interface {
	Name() string

	// Initialize prepares backend clients. Safe to call repeatedly; Generate
	// calls it lazily.
	Initialize(ctx context.Context) error

	Generate(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)

	// HealthCheck reports whether the backend currently answers.
	HealthCheck(ctx context.Context) bool
}

// Float returns a pointer to f, for GenerateRequest.Temperature.
func Float(f float64) *float64 {
	return &f
}

// Send delivers chunk unless ctx is done first. Producers use it so that an
// abandoned stream never blocks a goroutine forever.
func Send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into a single string.
func Collect(ctx context.Context, stream <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return sb.String(), chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}

// Single returns a closed stream holding text followed by Done, for backends
// that only answer in one piece.
func Single(text string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 2)
	if text != "" {
		ch <- StreamChunk{Content: text}
	}
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch
}

// Failed returns a closed stream holding only err.
func Failed(err error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Error: err}
	close(ch)
	return ch
}
