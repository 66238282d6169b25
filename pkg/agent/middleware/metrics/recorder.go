// Package metrics provides metrics recording for provider, breaker, action, cache and agent operations.
package metrics

import (
	"time"
)

// Outcome labels shared by every recorder method.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder defines the interface for recording engine metrics.
type Recorder interface {
	// ObserveGeneration records one provider generation attempt.
	ObserveGeneration(provider, status, errorKind string, promptTokens, completionTokens int, duration time.Duration)

	// IncFailover records the orchestrator giving up on a provider.
	IncFailover(provider, errorKind string)

	// SetProviderHealth records the health status of a provider (one-hot by status label).
	SetProviderHealth(provider, status string)

	// SetCircuitState records a breaker's state (0 closed, 1 open, 2 half-open).
	SetCircuitState(name string, state int)

	// ObserveAction records one action execution with its total attempts.
	ObserveAction(action, status string, attempts int, duration time.Duration)

	// IncCache records a request cache lookup ("hit", "miss") or write ("set").
	IncCache(result string)

	// ObserveTurn records one agent turn.
	ObserveTurn(path, status string, duration time.Duration)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(provider, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(provider string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveGeneration(_, _, _ string, _, _ int, _ time.Duration) {}
func (NoopRecorder) IncFailover(_, _ string)                                      {}
func (NoopRecorder) SetProviderHealth(_, _ string)                                {}
func (NoopRecorder) SetCircuitState(_ string, _ int)                              {}
func (NoopRecorder) ObserveAction(_, _ string, _ int, _ time.Duration)            {}
func (NoopRecorder) IncCache(_ string)                                            {}
func (NoopRecorder) ObserveTurn(_, _ string, _ time.Duration)                     {}
func (NoopRecorder) IncThrottle(_, _ string)                                      {}
func (NoopRecorder) ObserveQueueWait(_ string, _ time.Duration)                   {}
