package agent

import (
	"time"

	"agentengine/pkg/actions"
	"agentengine/pkg/memory"
)

// Request is one user turn. It is not modified by the agent.
type Request struct {
	Metadata       map[string]any
	UserID         string
	ConversationID string // generated when empty
	RequestID      string // generated when empty; used to cancel the turn
	Message        string
	History        []memory.Turn // prior turns; fetched from memory when nil
}

// Analysis is the structured reading of a message.
type Analysis struct {
	Entities     map[string]any `json:"entities"`
	Intent       string         `json:"intent"`
	RequiredInfo []string       `json:"required_info"`
	Confidence   float64        `json:"confidence"`
}

// Strategy says how a plan's actions are run.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// Plan is the ordered set of actions chosen for an Analysis.
type Plan struct {
	Parameters map[string]map[string]any `json:"parameters"`
	Strategy   Strategy                  `json:"strategy"`
	Reasoning  string                    `json:"reasoning"`
	Actions    []string                  `json:"actions"`
}

// ActionResults aggregates the outcomes of a plan. Success holds when no
// action was requested or at least one succeeded.
type ActionResults struct {
	Results map[string]*actions.Result
	Errors  []string
	Success bool
}

// ResponseKind distinguishes the items of a response stream.
type ResponseKind string

const (
	KindFragment ResponseKind = "fragment" // part of the reply text, in order
	KindProgress ResponseKind = "progress" // still-working notice
	KindFinal    ResponseKind = "final"    // the complete reply
	KindError    ResponseKind = "error"    // user-safe failure message, terminal
)

// Response is one item of a turn's output. Every turn ends with exactly one
// final or error response.
type Response struct {
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Content        string         `json:"content"`
	ConversationID string         `json:"conversation_id"`
	Kind           ResponseKind   `json:"kind"`
}

// Terminal reports whether r ends its turn.
func (r Response) Terminal() bool {
	return r.Kind == KindFinal || r.Kind == KindError
}

// Metadata keys set on final and error responses.
const (
	MetaIntent       = "intent"
	MetaToolsUsed    = "tools_used"
	MetaFromCache    = "from_cache"
	MetaFastPath     = "fast_path"
	MetaProvider     = "provider"
	MetaRequestID    = "request_id"
	MetaErrorKind    = "error_kind"
	MetaDurationMS   = "duration_ms"
	MetaActionErrors = "action_errors"
)

// CachedResponse is what the request cache keeps per (message, user).
type CachedResponse struct {
	Metadata map[string]any `json:"metadata"`
	Content  string         `json:"content"`
}
