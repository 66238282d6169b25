// Package memory stores past interactions so later turns can refer back to them.
package memory

import (
	"context"
	"time"
)

// Interaction is one completed exchange.
type Interaction struct {
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	UserMessage    string         `json:"user_message"`
	AgentResponse  string         `json:"agent_response"`
}

// Turn is a prior exchange as fed back into prompts.
type Turn struct {
	CreatedAt     time.Time `json:"created_at"`
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
}

// Store is the memory collaborator used by the agent.
type Store interface {
	// RetrieveContext returns up to max turns of the conversation, oldest
	// first. A non-empty query keeps only turns mentioning any of its words.
	RetrieveContext(ctx context.Context, userID, conversationID, query string, max int) ([]Turn, error)

	// StoreInteraction records a completed exchange.
	StoreInteraction(ctx context.Context, in Interaction) error

	Close() error
}

// nopStore remembers nothing.
type nopStore struct{}

// Nop returns a Store that discards writes and returns no turns.
func Nop() Store {
	return nopStore{}
}

func (nopStore) RetrieveContext(context.Context, string, string, string, int) ([]Turn, error) {
	return nil, nil
}

func (nopStore) StoreInteraction(context.Context, Interaction) error {
	return nil
}

func (nopStore) Close() error {
	return nil
}
