package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// RequestCache maps (message, user) to a previously produced response.
type RequestCache[T any] struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// NewRequestCache stores values of T in store under prefix for ttl.
func NewRequestCache[T any](store Store, prefix string, ttl time.Duration) *RequestCache[T] {
	return &RequestCache[T]{store: store, prefix: prefix, ttl: ttl}
}

// Key derives the storage key for message from userID. Surrounding whitespace
// in the message is ignored.
func (c *RequestCache[T]) Key(message, userID string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(message)))
	key := hex.EncodeToString(h.Sum(nil))
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get returns the cached value and whether it was found.
func (c *RequestCache[T]) Get(ctx context.Context, message, userID string) (T, bool, error) {
	var v T
	data, err := c.store.Get(ctx, c.Key(message, userID))
	if errors.Is(err, ErrMiss) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return v, true, nil
}

// Put stores v for the configured TTL.
func (c *RequestCache[T]) Put(ctx context.Context, message, userID string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.store.Set(ctx, c.Key(message, userID), data, c.ttl)
}

// Invalidate removes the entry for message and userID.
func (c *RequestCache[T]) Invalidate(ctx context.Context, message, userID string) error {
	return c.store.Delete(ctx, c.Key(message, userID))
}
