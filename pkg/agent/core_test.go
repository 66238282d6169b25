package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentengine/pkg/actions"
	"agentengine/pkg/agent/llm"
	"agentengine/pkg/cache"
	"agentengine/pkg/faults"
	"agentengine/pkg/memory"
	"agentengine/pkg/orchestrator"
	"agentengine/pkg/progress"
)

// script answers each kind of call the cycle makes.
type script struct {
	analysis string
	plan     string
	reply    []string
	delay    time.Duration
	replyErr error
}

func scriptedProvider(name string, s script) *llm.MockProvider {
	return llm.NewMockProviderFunc(name, func(req llm.GenerateRequest) llm.MockReply {
		switch req.SystemPrompt {
		case analyzeSystemPrompt:
			return llm.Text(s.analysis)
		case planSystemPrompt:
			return llm.Text(s.plan)
		default:
			return llm.MockReply{Fragments: s.reply, Delay: s.delay, Err: s.replyErr}
		}
	})
}

func testConfig() Config {
	return Config{
		MaxConcurrency:     2,
		ActionTimeout:      time.Second,
		HistoryTurns:       5,
		HistoryTokenBudget: 500,
		Temperature:        0.7,
		Stream:             true,
	}
}

func newTestAgent(t *testing.T, deps Deps, providers ...llm.Provider) *Agent {
	t.Helper()
	o, err := orchestrator.New(providers, orchestrator.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	deps.Generator = o
	a, err := New(deps, testConfig())
	require.NoError(t, err)
	return a
}

func collect(t *testing.T, ch <-chan Response) []Response {
	t.Helper()
	var out []Response
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("response stream did not close")
			return out
		}
	}
}

func final(t *testing.T, rs []Response) Response {
	t.Helper()
	require.NotEmpty(t, rs)
	last := rs[len(rs)-1]
	require.True(t, last.Terminal(), "last response kind %s", last.Kind)
	for _, r := range rs[:len(rs)-1] {
		require.False(t, r.Terminal(), "terminal response before the end")
	}
	return last
}

func fragments(rs []Response) string {
	var sb strings.Builder
	for _, r := range rs {
		if r.Kind == KindFragment {
			sb.WriteString(r.Content)
		}
	}
	return sb.String()
}

func jobRegistry(t *testing.T) (*actions.Registry, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	reg := actions.NewRegistry(actions.Config{DefaultTimeout: time.Second, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond})
	require.NoError(t, reg.Register(actions.Func{
		Def: actions.Definition{
			Name:        "search_jobs",
			Description: "Search open positions",
			InputSchema: actions.InputSchema{Type: "object", Required: []string{"query"}},
		},
		Fn: func(_ context.Context, params map[string]any) (*actions.Result, error) {
			seen.Store("search_jobs", params)
			return &actions.Result{Data: []map[string]string{
				{"title": "Senior Python Engineer", "company": "Acme"},
				{"title": "Python Data Engineer", "company": "Globex"},
			}}, nil
		},
	}))
	require.NoError(t, reg.Register(actions.Func{
		Def: actions.Definition{
			Name:        "get_profile",
			Description: "Load the user's profile",
			InputSchema: actions.InputSchema{Type: "object"},
		},
		Fn: func(context.Context, map[string]any) (*actions.Result, error) {
			seen.Store("get_profile", true)
			return nil, faults.New(faults.ValidationFailed, "profile service rejected the request")
		},
	}))
	return reg, seen
}

func TestHelloTakesFastPath(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"Hi! ", "How can I help?"}})
	reg, _ := jobRegistry(t)
	a := newTestAgent(t, Deps{Actions: reg}, p)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u1", Message: "hello"}))
	f := final(t, rs)
	assert.Equal(t, KindFinal, f.Kind)
	assert.Equal(t, "Hi! How can I help?", f.Content)
	assert.Equal(t, f.Content, fragments(rs))
	assert.Equal(t, true, f.Metadata[MetaFastPath])
	assert.Equal(t, false, f.Metadata[MetaFromCache])
	assert.Equal(t, "greeting", f.Metadata[MetaIntent])
	assert.Equal(t, "primary", f.Metadata[MetaProvider])
	assert.NotEmpty(t, f.Metadata[MetaRequestID])
	assert.NotEmpty(t, f.ConversationID)

	// Only the reply was generated.
	require.Equal(t, 1, p.Calls())
	assert.Equal(t, fastPathSystemPrompt, p.Requests()[0].SystemPrompt)
}

func TestJobSearchRunsFullCycle(t *testing.T) {
	p := scriptedProvider("primary", script{
		analysis: `{"intent": "job_search", "entities": {"skill": "python"}, "confidence": 0.9}`,
		plan: "Here is the plan:\n```json\n" +
			`{"actions": ["search_jobs", "delete_everything"], "parameters": {"search_jobs": {"query": "python"}}, "strategy": "sequential", "reasoning": "user wants jobs"}` +
			"\n```",
		reply: []string{"I found ", "2 Python jobs."},
	})
	reg, seen := jobRegistry(t)
	store := cache.NewRequestCache[CachedResponse](cache.NewMemoryStore(), "test", time.Minute)
	a := newTestAgent(t, Deps{Actions: reg, Cache: store}, p)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u1", Message: "Find me Python jobs"}))
	f := final(t, rs)
	require.Equal(t, KindFinal, f.Kind, f.Content)
	assert.Equal(t, "I found 2 Python jobs.", f.Content)
	assert.Equal(t, "job_search", f.Metadata[MetaIntent])
	assert.Equal(t, []string{"search_jobs"}, f.Metadata[MetaToolsUsed])
	assert.Equal(t, false, f.Metadata[MetaFastPath])
	assert.NotContains(t, f.Metadata, MetaActionErrors)

	params, ok := seen.Load("search_jobs")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"query": "python"}, params)

	reqs := p.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, analyzeSystemPrompt, reqs[0].SystemPrompt)
	assert.Contains(t, reqs[1].Prompt, "- search_jobs: Search open positions")
	assert.Contains(t, reqs[2].Prompt, "Senior Python Engineer")
	assert.True(t, reqs[2].Stream)

	// Replies that used actions are not cached.
	_, hit, err := store.Get(context.Background(), "Find me Python jobs", "u1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestPartialActionFailureStillAnswers(t *testing.T) {
	p := scriptedProvider("primary", script{
		analysis: `{"intent": "job_match"}`,
		plan:     `{"actions": ["get_profile", "search_jobs"], "parameters": {"search_jobs": {"query": "go"}}, "strategy": "parallel"}`,
		reply:    []string{"Here are some jobs; I could not load your profile."},
	})
	reg, seen := jobRegistry(t)
	a := newTestAgent(t, Deps{Actions: reg}, p)

	f := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u1", Message: "match my profile to some jobs"})))
	require.Equal(t, KindFinal, f.Kind)
	assert.Equal(t, []string{"get_profile", "search_jobs"}, f.Metadata[MetaToolsUsed])
	errs, ok := f.Metadata[MetaActionErrors].([]string)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "get_profile")

	_, ranSearch := seen.Load("search_jobs")
	assert.True(t, ranSearch)
	assert.Contains(t, p.Requests()[2].Prompt, "get_profile failed")
}

func TestActRunsNothingForEmptyPlan(t *testing.T) {
	a := &Agent{config: testConfig()}
	res := a.act(context.Background(), Plan{})
	assert.True(t, res.Success)
	assert.Empty(t, res.Results)
}

func TestActAggregateSuccess(t *testing.T) {
	reg, _ := jobRegistry(t)
	a, err := New(Deps{Generator: llm.NewMockProvider("x"), Actions: reg}, testConfig())
	require.NoError(t, err)

	res := a.act(context.Background(), Plan{Actions: []string{"get_profile"}, Parameters: map[string]map[string]any{}})
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)

	res = a.act(context.Background(), Plan{
		Actions:    []string{"get_profile", "search_jobs"},
		Parameters: map[string]map[string]any{"search_jobs": {"query": "x"}},
	})
	assert.True(t, res.Success)
	assert.True(t, res.Results["search_jobs"].Success)
}

func TestActCountsReportedFailureAsFailure(t *testing.T) {
	reg := actions.NewRegistry(actions.Config{DefaultTimeout: time.Second, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond})
	require.NoError(t, reg.Register(actions.Func{
		Def: actions.Definition{Name: "no_jobs", Description: "Search an empty backend", InputSchema: actions.InputSchema{Type: "object"}},
		Fn: func(context.Context, map[string]any) (*actions.Result, error) {
			return &actions.Result{Error: "job backend returned nothing"}, nil
		},
	}))
	a, err := New(Deps{Generator: llm.NewMockProvider("x"), Actions: reg}, testConfig())
	require.NoError(t, err)

	res := a.act(context.Background(), Plan{Actions: []string{"no_jobs"}, Parameters: map[string]map[string]any{}})
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "job backend returned nothing")
	assert.False(t, res.Results["no_jobs"].Success)
}

func TestCacheHitSkipsTheCycle(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"Hello there!"}})
	store := cache.NewRequestCache[CachedResponse](cache.NewMemoryStore(), "test", time.Minute)
	a := newTestAgent(t, Deps{Cache: store}, p)

	first := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u1", Message: "hello"})))
	require.Equal(t, KindFinal, first.Kind)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u1", Message: "hello"}))
	require.Len(t, rs, 1)
	assert.Equal(t, KindFinal, rs[0].Kind)
	assert.Equal(t, "Hello there!", rs[0].Content)
	assert.Equal(t, true, rs[0].Metadata[MetaFromCache])
	assert.Equal(t, 1, p.Calls())

	// Another user misses.
	final(t, collect(t, a.Process(context.Background(), Request{UserID: "u2", Message: "hello"})))
	assert.Equal(t, 2, p.Calls())
}

func TestProviderFailureBecomesUserMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"rate limited", faults.New(faults.RateLimited, "429"), msgRateLimit},
		{"auth", faults.New(faults.AuthFailed, "bad key"), msgAuth},
		{"timeout", faults.New(faults.TimedOut, "slow"), msgTimeout},
		{"other", faults.New(faults.Unavailable, "down"), msgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := llm.NewMockProvider("primary", llm.Fail(tt.err))
			a := newTestAgent(t, Deps{}, p)

			rs := collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "hi"}))
			require.Len(t, rs, 1)
			assert.Equal(t, KindError, rs[0].Kind)
			assert.Equal(t, tt.message, rs[0].Content)
			assert.Equal(t, faults.AllProvidersExhausted.String(), rs[0].Metadata[MetaErrorKind])
			assert.NotContains(t, rs[0].Content, "429")
		})
	}
}

func TestMidStreamFailureEndsWithError(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"partial "}, replyErr: errors.New("connection reset")})
	a := newTestAgent(t, Deps{}, p)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "hey"}))
	f := final(t, rs)
	assert.Equal(t, KindError, f.Kind)
	assert.Equal(t, "partial ", fragments(rs))
	assert.Equal(t, msgGeneric, f.Content)
}

func TestMalformedAnalysisUsesDefaults(t *testing.T) {
	p := scriptedProvider("primary", script{
		analysis: "I am not sure what they want.",
		plan:     "nothing to do",
		reply:    []string{"Could you tell me more?"},
	})
	reg, _ := jobRegistry(t)
	a := newTestAgent(t, Deps{Actions: reg}, p)

	f := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "tell me about the companies hiring"})))
	require.Equal(t, KindFinal, f.Kind)
	assert.Equal(t, "", f.Metadata[MetaIntent])
	assert.Equal(t, []string{}, f.Metadata[MetaToolsUsed])
}

func TestWithoutActionsPlanIsEmpty(t *testing.T) {
	p := scriptedProvider("primary", script{analysis: `{"intent":"question"}`, reply: []string{"Sure."}})
	a := newTestAgent(t, Deps{}, p)

	f := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "what skills matter for backend roles"})))
	require.Equal(t, KindFinal, f.Kind)
	// Analysis and reply only; the empty plan costs no generation.
	assert.Equal(t, 2, p.Calls())
	assert.Contains(t, p.Requests()[1].Prompt, "Plan: no actions registered")
}

func TestStreamingOff(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"a", "b"}})
	o, err := orchestrator.New([]llm.Provider{p}, orchestrator.Config{})
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Stream = false
	a, err := New(Deps{Generator: o}, cfg)
	require.NoError(t, err)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "hi"}))
	require.Len(t, rs, 1)
	assert.Equal(t, "ab", rs[0].Content)
	assert.False(t, p.Requests()[0].Stream)
}

func TestInteractionsArePersistedAndRecalled(t *testing.T) {
	mem, err := memory.OpenSQLite(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	p := scriptedProvider("primary", script{reply: []string{"Nice to meet you."}})
	a := newTestAgent(t, Deps{Memory: mem}, p)

	first := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u", ConversationID: "c", Message: "hi"})))
	require.Equal(t, KindFinal, first.Kind)
	a.Wait()

	turns, err := mem.RetrieveContext(context.Background(), "u", "c", "", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].UserMessage)
	assert.Equal(t, "Nice to meet you.", turns[0].AgentResponse)

	final(t, collect(t, a.Process(context.Background(), Request{UserID: "u", ConversationID: "c", Message: "thanks"})))
	a.Wait()
	last := p.Requests()[len(p.Requests())-1]
	assert.Contains(t, last.Prompt, "Earlier in this conversation")
	assert.Contains(t, last.Prompt, "Nice to meet you.")
}

type failingMemory struct{ memory.Store }

func (failingMemory) RetrieveContext(context.Context, string, string, string, int) ([]memory.Turn, error) {
	return nil, errors.New("db locked")
}

func (failingMemory) StoreInteraction(context.Context, memory.Interaction) error {
	return errors.New("db locked")
}

func TestMemoryFailuresDoNotFailTheTurn(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"Hello!"}})
	a := newTestAgent(t, Deps{Memory: failingMemory{}}, p)

	f := final(t, collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "hi"})))
	assert.Equal(t, KindFinal, f.Kind)
	a.Wait()
}

func TestSlowTurnGetsProgressNotices(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"done"}, delay: 120 * time.Millisecond})
	ind := progress.New(progress.Config{Threshold: 20 * time.Millisecond, Interval: 20 * time.Millisecond})
	a := newTestAgent(t, Deps{Progress: ind}, p)

	rs := collect(t, a.Process(context.Background(), Request{UserID: "u", Message: "hi"}))
	f := final(t, rs)
	assert.Equal(t, "done", f.Content)
	require.Greater(t, len(rs), 2)
	assert.Equal(t, KindProgress, rs[0].Kind)
	assert.Equal(t, 1, rs[0].Metadata["seq"])

	// Notices stop once text arrives.
	sawFragment := false
	for _, r := range rs {
		if r.Kind == KindFragment {
			sawFragment = true
		}
		if sawFragment {
			assert.NotEqual(t, KindProgress, r.Kind)
		}
	}
}

func TestCancelByRequestID(t *testing.T) {
	p := scriptedProvider("primary", script{reply: []string{"too late"}, delay: 10 * time.Second})
	ind := progress.New(progress.Config{Threshold: time.Hour, Interval: time.Hour})
	a := newTestAgent(t, Deps{Progress: ind}, p)

	stream := a.Process(context.Background(), Request{UserID: "u", RequestID: "req-1", Message: "hi"})
	require.Eventually(t, func() bool { return a.Cancel("req-1") }, time.Second, 5*time.Millisecond)

	rs := collect(t, stream)
	require.Len(t, rs, 1)
	assert.Equal(t, KindError, rs[0].Kind)
	assert.Equal(t, msgCancelled, rs[0].Content)
	assert.Equal(t, "canceled", rs[0].Metadata[MetaErrorKind])
	assert.Equal(t, "req-1", rs[0].Metadata[MetaRequestID])
}

func TestNewRequiresGenerator(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)

	a, err := New(Deps{Generator: llm.NewMockProvider("x")}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxConcurrency, a.config.MaxConcurrency)
	assert.Equal(t, llm.DefaultMaxTokens, a.config.MaxTokens)
	assert.Equal(t, DefaultPersistTimeout, a.config.PersistTimeout)
	assert.False(t, a.Cancel("anything"))
}
