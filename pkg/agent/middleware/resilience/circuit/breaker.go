// Package circuit provides a tri-state circuit breaker for flaky remote dependencies
// and a name-keyed registry so every caller of a dependency shares one breaker.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentengine/pkg/faults"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing service failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Testing if service recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold"` // Consecutive half-open successes before closing
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`  // Time to wait before trying half-open
}

// Snapshot is a point-in-time copy of a breaker's bookkeeping.
type Snapshot struct {
	LastFailure time.Time `json:"last_failure"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
}

// StateChangeFunc is invoked after every transition, outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker or Registry.
type Option func(*options)

type options struct {
	now      func() time.Time
	onChange StateChangeFunc
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(o *options) { o.onChange = fn }
}

// Breaker guards calls to one dependency. All transitions happen under mu.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	name   string
	config Config
	opts   options

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// New creates a breaker in the CLOSED state.
func New(name string, config Config, opts ...Option) *Breaker {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Breaker{
		name:   name,
		config: config,
		opts:   o,
		state:  Closed,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reserves permission for one call. It returns a CircuitOpen error when
// the call must not be attempted. In HALF_OPEN only one trial may be in flight.
// Every successful Allow must be followed by Record or Abort.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	err := b.allowLocked()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

func (b *Breaker) allowLocked() error {
	switch b.state {
	case Closed:
		return nil

	case Open:
		if b.opts.now().Sub(b.lastFailureTime) < b.config.RecoveryTimeout {
			return b.openError()
		}
		b.state = HalfOpen
		b.successCount = 0
		b.trialInFlight = true
		return nil

	case HalfOpen:
		if b.trialInFlight {
			return b.openError()
		}
		b.trialInFlight = true
		return nil

	default:
		return b.openError()
	}
}

func (b *Breaker) openError() error {
	return &faults.Error{
		Kind:    faults.CircuitOpen,
		Message: fmt.Sprintf("circuit breaker %s is %s", b.name, b.state),
	}
}

// Record records the outcome of a call admitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	from := b.state
	b.trialInFlight = false
	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// Abort releases a call admitted by Allow without counting it, for calls the
// caller itself cancelled.
func (b *Breaker) Abort() {
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

// Call runs op under the breaker. Caller cancellation and ValidationFailed are
// not counted as failures. A panic in op counts as a failure and is re-raised.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			b.Record(false)
			panic(p)
		}
	}()
	err := op(ctx)
	b.finish(ctx, err)
	return err
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failureCount,
		Successes:   b.successCount,
		LastFailure: b.lastFailureTime,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.trialInFlight = false
	b.mu.Unlock()

	b.notify(from, Closed)
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.failureCount = 0

	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.lastFailureTime = b.opts.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}

	case HalfOpen:
		// Any failure in half-open immediately reopens the circuit.
		b.state = Open
		b.successCount = 0
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.opts.onChange != nil {
		b.opts.onChange(b.name, from, to)
	}
}
