package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentengine/pkg/agent/middleware/metrics"
	"agentengine/pkg/agent/middleware/resilience/retry"
	"agentengine/pkg/faults"
	"agentengine/pkg/logx"
)

// ErrDuplicateAction is returned when registering a name twice.
var ErrDuplicateAction = errors.New("action already registered")

// ExecOptions bounds one Execute call.
type ExecOptions struct {
	Timeout    time.Duration // per attempt; 0 uses the registry default
	MaxRetries int           // retries after the first attempt
}

// DefaultRetryDelay is the first backoff used when Config.RetryDelay is unset.
const DefaultRetryDelay = time.Second

// Config holds registry-wide defaults. A zero DefaultTimeout or MaxRetryDelay
// means no limit.
type Config struct {
	DefaultTimeout time.Duration
	RetryDelay     time.Duration // delay before the first retry; DefaultRetryDelay when unset
	MaxRetryDelay  time.Duration
}

// Option customizes a Registry.
type Option func(*Registry)

// WithRecorder reports executions to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(reg *Registry) { reg.recorder = r }
}

// WithSleeper replaces the retry backoff sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(reg *Registry) { reg.sleep = sleep }
}

// CatalogueEntry is the planner's view of an action.
type CatalogueEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds actions by unique name.
type Registry struct {
	actions  map[string]Action
	history  *history
	recorder metrics.Recorder
	logger   *logx.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	order    []string
	config   Config
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	r := &Registry{
		actions:  make(map[string]Action),
		history:  newHistory(HistoryCapacity),
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("actions"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an action under its definition's name.
func (r *Registry) Register(a Action) error {
	def := a.Definition()
	if def.Name == "" {
		return fmt.Errorf("action name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, def.Name)
	}
	r.actions[def.Name] = a
	r.order = append(r.order, def.Name)
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Catalogue lists every action in registration order.
func (r *Registry) Catalogue() []CatalogueEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CatalogueEntry, 0, len(r.order))
	for _, name := range r.order {
		def := r.actions[name].Definition()
		out = append(out, CatalogueEntry{Name: def.Name, Description: def.Description})
	}
	return out
}

// Definitions returns the full definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name].Definition())
	}
	return out
}

// History returns up to HistoryCapacity attempts, oldest first.
func (r *Registry) History() []Record {
	return r.history.snapshot()
}

// Execute runs name with params and reports the outcome as a Result; it never
// fails. Unknown names, missing required parameters, ValidationFailed errors
// and attempts that exceed the timeout end after one attempt. Other failures
// are retried with exponential backoff up to opts.MaxRetries times. Every
// attempt is added to the history.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, opts ExecOptions) *Result {
	start := time.Now()

	r.mu.RLock()
	action, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		err := faults.New(faults.ValidationFailed, "unknown action: "+name)
		r.record(name, 1, start, err)
		return r.finish(name, start, 1, nil, err)
	}

	if err := checkRequired(action.Definition().InputSchema, params); err != nil {
		r.record(name, 1, start, err)
		return r.finish(name, start, 1, nil, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	policy := retry.NewPolicy(retry.Config{
		MaxRetries: max(opts.MaxRetries, 0),
		BaseDelay:  r.config.RetryDelay,
		MaxDelay:   r.config.MaxRetryDelay,
	}, retryable)
	if r.sleep != nil {
		policy.WithSleeper(r.sleep)
	}
	policy.OnRetry = func(n int, err error, delay time.Duration) {
		r.logger.Info("action %s: retry %d in %v after %v", name, n, delay, err)
	}

	var (
		result   *Result
		attempts int
	)
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		attemptStart := time.Now()
		res, err := r.attempt(ctx, action, name, params, timeout)
		if err == nil && res.failed() {
			err = faults.New(faults.Generic, res.Error)
		}
		r.record(name, attempts, attemptStart, err)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return r.finish(name, start, attempts, result, err)
}

// attempt runs the action once under its own timeout. The action runs in its
// own goroutine so that one ignoring ctx still cannot hold the caller past the
// deadline; panics become Generic failures.
func (r *Registry) attempt(ctx context.Context, action Action, name string, params map[string]any, timeout time.Duration) (*Result, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: faults.New(faults.Generic, fmt.Sprintf("action %s panicked: %v", name, p))}
			}
		}()
		res, err := action.Execute(attemptCtx, params)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, faults.Wrap(faults.TimedOut, o.err, fmt.Sprintf("action %s timed out after %v", name, timeout))
		}
		if o.err != nil {
			return nil, o.err
		}
		if o.res == nil {
			o.res = &Result{}
		}
		return o.res, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		}
		return nil, faults.Wrap(faults.TimedOut, attemptCtx.Err(), fmt.Sprintf("action %s timed out after %v", name, timeout))
	}
}

// retryable decides whether a failed attempt is worth repeating.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch faults.KindOf(err) {
	case faults.ValidationFailed, faults.TimedOut:
		return false
	default:
		return true
	}
}

func checkRequired(schema InputSchema, params map[string]any) error {
	var missing []string
	for _, key := range schema.Required {
		v, ok := params[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return faults.New(faults.ValidationFailed, "missing required parameters: "+strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) record(name string, attempt int, started time.Time, err error) {
	rec := Record{
		Action:   name,
		Attempt:  attempt,
		Started:  started,
		Duration: time.Since(started),
		Success:  err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Kind = faults.KindOf(err).String()
	}
	r.history.add(rec)
}

func (r *Registry) finish(name string, start time.Time, attempts int, res *Result, err error) *Result {
	duration := time.Since(start)
	if err != nil {
		res = &Result{Error: err.Error(), Kind: faults.KindOf(err).String()}
		r.recorder.ObserveAction(name, metrics.StatusError, attempts, duration)
		r.logger.Warn("action %s failed after %d attempt(s): %v", name, attempts, err)
	} else {
		res.Success = true
		res.Error = ""
		r.recorder.ObserveAction(name, metrics.StatusSuccess, attempts, duration)
	}
	res.Duration = duration
	res.Attempts = attempts
	return res
}
