package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreExpiresAtTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	clock.Advance(time.Minute - time.Nanosecond)
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	clock.Advance(time.Nanosecond)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStorePurgesLazily(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Second)

	// Nothing is removed until the key is read.
	assert.Equal(t, 2, s.Len())
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreSetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, "k", []byte("v"), 0))

	buf := []byte("orig")
	require.NoError(t, s.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X'
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "orig", string(v))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

type cachedReply struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func TestRequestCacheRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewRequestCache[cachedReply](NewMemoryStore(WithClock(clock.Now)), "resp", 5*time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "hello", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "hello", "u1", cachedReply{Content: "Hi!", Metadata: map[string]string{"intent": "greeting"}}))

	got, ok, err := c.Get(ctx, "  hello ", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hi!", got.Content)
	assert.Equal(t, "greeting", got.Metadata["intent"])

	// Scoped per user.
	_, ok, err = c.Get(ctx, "hello", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(5 * time.Minute)
	_, ok, err = c.Get(ctx, "hello", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestCacheKey(t *testing.T) {
	c := NewRequestCache[string](NewMemoryStore(), "p", time.Minute)
	k := c.Key("find jobs", "u1")
	assert.Regexp(t, `^p:[0-9a-f]{64}$`, k)
	assert.Equal(t, k, c.Key("find jobs", "u1"))
	assert.NotEqual(t, k, c.Key("find jobs", "u2"))
	// The separator keeps ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, c.Key("c", "ab"), c.Key("bc", "a"))

	bare := NewRequestCache[string](NewMemoryStore(), "", time.Minute)
	assert.Len(t, bare.Key("x", "y"), 64)
}

func TestRequestCacheInvalidate(t *testing.T) {
	c := NewRequestCache[string](NewMemoryStore(), "p", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "q", "u", "answer"))
	require.NoError(t, c.Invalidate(ctx, "q", "u"))
	_, ok, err := c.Get(ctx, "q", "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	key := "agentengine-test:" + uuid.NewString()
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, key, []byte("value"), time.Minute))
	v, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "value", string(v))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}
