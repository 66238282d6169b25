// Package utils provides tiktoken-based token counting used for prompt budgets and usage metrics.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// charsPerToken is the estimate used when no codec is available.
const charsPerToken = 4

// TokenCounter counts tokens with the cl100k encoding. Every backend is
// approximated with it; counts only drive budgets and metrics.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	shared     *TokenCounter
	sharedOnce sync.Once
)

// NewTokenCounter loads the cl100k codec. model only labels errors.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer for %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// DefaultCounter returns the process-wide counter. If the codec cannot be
// loaded it estimates from character counts instead.
func DefaultCounter() *TokenCounter {
	sharedOnce.Do(func() {
		c, err := NewTokenCounter("default")
		if err != nil {
			c = &TokenCounter{}
		}
		shared = c
	})
	return shared
}

func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / charsPerToken
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / charsPerToken
	}
	return n
}

// TruncateToTokenLimit cuts text to its first limit tokens and marks the cut
// with "...". Text within the limit is returned unchanged.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if tc == nil || tc.codec == nil {
		if max := limit * charsPerToken; len(text) > max {
			return text[:max] + "..."
		}
		return text
	}

	ids, _, err := tc.codec.Encode(text)
	if err != nil || len(ids) <= limit {
		return text
	}
	head, err := tc.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	return head + "..."
}

// KeepRecent returns the longest suffix of items whose combined token count
// fits in budget. Order is preserved. A budget <= 0 keeps nothing.
func (tc *TokenCounter) KeepRecent(items []string, budget int) []string {
	used, start := 0, len(items)
	for start > 0 {
		n := tc.CountTokens(items[start-1])
		if used+n > budget {
			break
		}
		used += n
		start--
	}
	return items[start:]
}
