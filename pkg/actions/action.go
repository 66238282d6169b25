// Package actions provides the registry of named, schema-described operations
// the agent's plan can select, and executes them with timeout, retry and a
// bounded execution history.
package actions

import (
	"context"
	"time"
)

// Property describes one parameter of an action.
type Property struct {
	Items       *Property `json:"items,omitempty"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// InputSchema is the parameter schema of an action. Only the presence of
// Required keys is enforced; the rest is documentation for the planner.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Type       string              `json:"type"`
	Required   []string            `json:"required,omitempty"`
}

// Definition names and documents an action.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Result is the outcome of one action execution. Failures are values: the
// registry never returns an error from Execute. An action may also report a
// failure by returning a Result with Error set and Success false; the registry
// treats it like a returned error.
type Result struct {
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     string         `json:"error_kind,omitempty"`
	Duration time.Duration  `json:"duration"`
	Attempts int            `json:"attempts"`
	Success  bool           `json:"success"`
}

func (r *Result) failed() bool {
	return !r.Success && r.Error != ""
}

// Action is a named operation the agent can run.
type Action interface {
	Definition() Definition

	// Execute runs the action once. Returning a faults.ValidationFailed error
	// marks the parameters as unusable and prevents retries.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Func adapts a function to the Action interface.
type Func struct {
	Fn  func(ctx context.Context, params map[string]any) (*Result, error)
	Def Definition
}

func (f Func) Definition() Definition {
	return f.Def
}

func (f Func) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	return f.Fn(ctx, params)
}

// Caller identifies who a turn runs on behalf of. Actions that need it read it
// from the context.
type Caller struct {
	UserID         string
	ConversationID string
	RequestID      string
}

type callerKey struct{}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// StringParam returns params[key] if it is a non-empty string.
func StringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok && s != ""
}

// IntParam returns params[key] as an int. JSON numbers decode as float64.
func IntParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
