// Package faults provides the failure taxonomy shared by generation providers,
// the provider orchestrator, the action registry and the agent cycle.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind represents a category of failure used to drive retry and failover policy.
type Kind int8

const (
	// Generic is the default for unclassified failures. Retried.
	Generic Kind = iota
	// TimedOut represents deadline or network timeouts. Retried.
	TimedOut
	// RateLimited represents 429/quota failures. Not retried on the same provider.
	RateLimited
	// AuthFailed represents 401/403 and bad credentials. Never retried.
	AuthFailed
	// Unavailable represents a backend that is down or unreachable. Triggers failover.
	Unavailable
	// ValidationFailed represents bad input. Never retried.
	ValidationFailed
	// CircuitOpen is returned when a breaker rejects a call without attempting it.
	CircuitOpen
	// AllProvidersExhausted is returned when every provider in a chain failed.
	AllProvidersExhausted
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Generic:
		return "generic"
	case TimedOut:
		return "timed_out"
	case RateLimited:
		return "rate_limited"
	case AuthFailed:
		return "auth_failed"
	case Unavailable:
		return "unavailable"
	case ValidationFailed:
		return "validation_failed"
	case CircuitOpen:
		return "circuit_open"
	case AllProvidersExhausted:
		return "all_providers_exhausted"
	default:
		return "invalid"
	}
}

// Error represents a classified failure.
type Error struct {
	Err        error    // Wrapped underlying error
	Message    string   // Human-readable message
	Tried      []string // Providers attempted, set for AllProvidersExhausted
	Kind       Kind     // Classified kind
	StatusCode int      // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the same operation may be attempted again against
// the same dependency. Only timeouts and unclassified failures qualify.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case TimedOut, Generic:
		return true
	default:
		return false
	}
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewWithStatus creates a classified error carrying an HTTP status.
func NewWithStatus(kind Kind, statusCode int, message string) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}

// Wrap creates a classified error wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Exhausted builds the AllProvidersExhausted failure for a chain.
func Exhausted(last error, tried []string) *Error {
	names := make([]string, len(tried))
	copy(names, tried)
	return &Error{
		Kind:    AllProvidersExhausted,
		Err:     last,
		Tried:   names,
		Message: fmt.Sprintf("all providers failed (tried: %s)", strings.Join(names, ", ")),
	}
}

// Is checks if err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of err. Unclassified errors are classified on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return Generic
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err).Kind
}

// IsRetryable reports whether err may be retried against the same dependency.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Classify maps a raw backend or transport error into the taxonomy. Errors that
// are already classified are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(TimedOut, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Generic, err, "request canceled")
	}

	errStr := err.Error()
	if code := ExtractStatusCode(errStr); code != 0 {
		return FromStatus(code, err)
	}

	lower := strings.ToLower(errStr)
	switch {
	case containsAny(lower, "timeout", "timed out", "deadline"):
		return Wrap(TimedOut, err, "request timeout")
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "quota"):
		return Wrap(RateLimited, err, "rate limiting detected")
	case containsAny(lower, "unauthorized", "forbidden", "api key", "authentication", "permission denied"):
		return Wrap(AuthFailed, err, "authentication error")
	case containsAny(lower, "connection refused", "no such host", "unavailable", "overloaded"):
		return Wrap(Unavailable, err, "service unavailable")
	}
	return Wrap(Generic, err, "unclassified error")
}

// FromStatus maps an HTTP status code to a classified error.
func FromStatus(statusCode int, cause error) *Error {
	var e *Error
	switch {
	case statusCode == 401 || statusCode == 403:
		e = NewWithStatus(AuthFailed, statusCode, "authentication failed - check API key")
	case statusCode == 429:
		e = NewWithStatus(RateLimited, statusCode, "rate limit exceeded")
	case statusCode == 408 || statusCode == 504:
		e = NewWithStatus(TimedOut, statusCode, "upstream timeout")
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		e = NewWithStatus(ValidationFailed, statusCode, "request rejected")
	case statusCode == 502 || statusCode == 503 || statusCode == 529:
		e = NewWithStatus(Unavailable, statusCode, "service unavailable")
	case statusCode >= 500:
		e = NewWithStatus(Generic, statusCode, "server error")
	default:
		e = NewWithStatus(Generic, statusCode, "unexpected status")
	}
	e.Err = cause
	return e
}

// ExtractStatusCode attempts to extract an HTTP status code from an error string.
// SDK errors usually embed it after one of a handful of prefixes.
func ExtractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status code ", "status: ", "http ", "code "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(errStr) {
			continue
		}
		code := 0
		for _, r := range errStr[start : start+3] {
			if r < '0' || r > '9' {
				code = 0
				break
			}
			code = code*10 + int(r-'0')
		}
		if code >= 400 && code <= 599 {
			return code
		}
	}
	return 0
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
