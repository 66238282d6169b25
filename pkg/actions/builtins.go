package actions

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata" // zone lookups must not depend on the host

	"agentengine/pkg/faults"
	"agentengine/pkg/memory"
)

// Built-in action names.
const (
	ActionCurrentTime        = "current_time"
	ActionRecallConversation = "recall_conversation"
)

const defaultRecallLimit = 5

// CurrentTime reports the time in an optional IANA zone.
func CurrentTime(now func() time.Time) Action {
	if now == nil {
		now = time.Now
	}
	return Func{
		Def: Definition{
			Name:        ActionCurrentTime,
			Description: "Returns the current date and time, optionally in a given timezone",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"timezone": {Type: "string", Description: "IANA timezone name, e.g. Europe/Berlin"},
				},
			},
		},
		Fn: func(_ context.Context, params map[string]any) (*Result, error) {
			t := now()
			if tz, ok := StringParam(params, "timezone"); ok {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, faults.Wrap(faults.ValidationFailed, err, "unknown timezone "+tz)
				}
				t = t.In(loc)
			}
			return &Result{
				Data: map[string]any{
					"time":     t.Format(time.RFC3339),
					"weekday":  t.Weekday().String(),
					"timezone": t.Location().String(),
				},
			}, nil
		},
	}
}

// RecallConversation searches earlier turns of the caller's conversation.
// The caller is taken from the context (see WithCaller).
func RecallConversation(store memory.Store) Action {
	return Func{
		Def: Definition{
			Name:        ActionRecallConversation,
			Description: "Searches earlier messages of this conversation for a topic",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "Words to look for"},
					"limit": {Type: "integer", Description: "Maximum turns to return"},
				},
				Required: []string{"query"},
			},
		},
		Fn: func(ctx context.Context, params map[string]any) (*Result, error) {
			caller, ok := CallerFrom(ctx)
			if !ok || caller.UserID == "" {
				return nil, faults.New(faults.ValidationFailed, "no caller attached to request")
			}
			query, _ := StringParam(params, "query")
			limit, ok := IntParam(params, "limit")
			if !ok || limit <= 0 {
				limit = defaultRecallLimit
			}

			turns, err := store.RetrieveContext(ctx, caller.UserID, caller.ConversationID, query, limit)
			if err != nil {
				return nil, fmt.Errorf("recall %q: %w", query, err)
			}
			return &Result{
				Data:     turns,
				Metadata: map[string]any{"matches": len(turns)},
			}, nil
		},
	}
}

// RegisterBuiltins adds every built-in action to r.
func RegisterBuiltins(r *Registry, store memory.Store) error {
	if store == nil {
		store = memory.Nop()
	}
	for _, a := range []Action{CurrentTime(nil), RecallConversation(store)} {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}
