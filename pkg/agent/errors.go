package agent

import (
	"context"
	"errors"
	"strings"

	"agentengine/pkg/faults"
)

// User-facing failure messages. The precise kind goes to metadata.
const (
	msgTimeout   = "This is taking longer than expected. Please try again in a moment."
	msgRateLimit = "I'm getting a lot of requests right now. Please wait a moment and try again."
	msgAuth      = "I'm having trouble connecting to my services. Please contact support if this keeps happening."
	msgGeneric   = "I ran into a problem while working on your request. Please try again."
	msgCancelled = "The request was cancelled."
)

// errorKind names the failure for metadata.
func errorKind(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return faults.KindOf(err).String()
}

// userMessage maps err onto one of the user-safe messages. The kinds anywhere
// in the chain decide first; the error text is the fallback.
func userMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return msgCancelled
	}
	kinds := chainKinds(err)
	switch {
	case kinds[faults.TimedOut] || errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case kinds[faults.RateLimited]:
		return msgRateLimit
	case kinds[faults.AuthFailed]:
		return msgAuth
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out"):
		return msgTimeout
	case strings.Contains(text, "rate limit") || strings.Contains(text, "too many requests"):
		return msgRateLimit
	case strings.Contains(text, "unauthorized") || strings.Contains(text, "api key"):
		return msgAuth
	}
	return msgGeneric
}

// chainKinds collects every fault kind wrapped in err.
func chainKinds(err error) map[faults.Kind]bool {
	kinds := map[faults.Kind]bool{}
	for err != nil {
		var fe *faults.Error
		if !errors.As(err, &fe) {
			break
		}
		kinds[fe.Kind] = true
		err = fe.Err
	}
	return kinds
}
