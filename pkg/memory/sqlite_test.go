package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndRetrieveChronological(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, msg := range []string{"first", "second", "third"} {
		require.NoError(t, s.StoreInteraction(ctx, Interaction{
			UserID:         "u1",
			ConversationID: "c1",
			UserMessage:    msg,
			AgentResponse:  "re: " + msg,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			Metadata:       map[string]any{"intent": "chat"},
		}))
	}
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u2", ConversationID: "c1", UserMessage: "other user", AgentResponse: "x"}))

	turns, err := s.RetrieveContext(ctx, "u1", "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "second", turns[0].UserMessage)
	assert.Equal(t, "third", turns[1].UserMessage)
	assert.Equal(t, "re: third", turns[1].AgentResponse)
	assert.True(t, turns[0].CreatedAt.Equal(base.Add(time.Minute)))

	n, err := s.Count(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRetrieveFiltersByQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u", ConversationID: "c", UserMessage: "find Python jobs", AgentResponse: "here are 3"}))
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u", ConversationID: "c", UserMessage: "what is the weather", AgentResponse: "sunny"}))

	turns, err := s.RetrieveContext(ctx, "u", "c", "python", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "find Python jobs", turns[0].UserMessage)

	turns, err = s.RetrieveContext(ctx, "u", "c", "nothing-matches", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestQueryWildcardsMatchLiterally(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u", ConversationID: "c", UserMessage: "raise by 10% please", AgentResponse: "noted"}))
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u", ConversationID: "c", UserMessage: "set max_salary", AgentResponse: "done"}))
	require.NoError(t, s.StoreInteraction(ctx, Interaction{UserID: "u", ConversationID: "c", UserMessage: "plain words", AgentResponse: `a\b path`}))

	for _, tc := range []struct {
		query string
		want  []string
	}{
		{query: "%", want: []string{"raise by 10% please"}},
		{query: "_", want: []string{"set max_salary"}},
		{query: "10%", want: []string{"raise by 10% please"}},
		{query: `\`, want: []string{"plain words"}},
		{query: "max_s", want: []string{"set max_salary"}},
	} {
		turns, err := s.RetrieveContext(ctx, "u", "c", tc.query, 10)
		require.NoError(t, err, tc.query)
		var got []string
		for _, turn := range turns {
			got = append(got, turn.UserMessage)
		}
		assert.Equal(t, tc.want, got, tc.query)
	}
}

func TestDuplicateIDIsIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := Interaction{ID: "fixed", UserID: "u", ConversationID: "c", UserMessage: "hi", AgentResponse: "hello"}
	require.NoError(t, s.StoreInteraction(ctx, in))
	require.NoError(t, s.StoreInteraction(ctx, in))

	n, err := s.Count(ctx, "u", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestZeroMaxReturnsNothing(t *testing.T) {
	s := openTestStore(t)
	turns, err := s.RetrieveContext(context.Background(), "u", "c", "", 0)
	require.NoError(t, err)
	assert.Nil(t, turns)
}

func TestNopStore(t *testing.T) {
	s := Nop()
	require.NoError(t, s.StoreInteraction(context.Background(), Interaction{}))
	turns, err := s.RetrieveContext(context.Background(), "u", "c", "", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.NoError(t, s.Close())
}
