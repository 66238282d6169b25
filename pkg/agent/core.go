package agent

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentengine/pkg/actions"
	"agentengine/pkg/agent/llm"
	"agentengine/pkg/agent/middleware/metrics"
	"agentengine/pkg/cache"
	"agentengine/pkg/config"
	"agentengine/pkg/faults"
	"agentengine/pkg/logx"
	"agentengine/pkg/memory"
	"agentengine/pkg/parallel"
	"agentengine/pkg/progress"
)

// Turn paths reported to metrics.
const (
	pathCache    = "cache"
	pathFastPath = "fast_path"
	pathFull     = "full"
)

// Generator produces text. *orchestrator.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamChunk, error)
}

// Executor runs named actions. *actions.Registry satisfies it.
type Executor interface {
	Catalogue() []actions.CatalogueEntry
	Has(name string) bool
	Execute(ctx context.Context, name string, params map[string]any, opts actions.ExecOptions) *actions.Result
}

// Deps are the collaborators of an Agent. Only Generator is required.
type Deps struct {
	Generator Generator
	Actions   Executor
	Memory    memory.Store
	Cache     *cache.RequestCache[CachedResponse]
	Progress  *progress.Indicator
	Recorder  metrics.Recorder
	Logger    *logx.Logger
	Now       func() time.Time
}

// Defaults New applies to unset Config fields.
const (
	DefaultMaxConcurrency = 5
	DefaultPersistTimeout = 10 * time.Second
)

// Config tunes the reasoning cycle. Unset MaxConcurrency, MaxTokens and
// PersistTimeout take DefaultMaxConcurrency, llm.DefaultMaxTokens and
// DefaultPersistTimeout.
type Config struct {
	ActionTimeout      time.Duration
	PersistTimeout     time.Duration
	Temperature        float64
	MaxConcurrency     int
	ActionMaxRetries   int
	HistoryTurns       int
	HistoryTokenBudget int
	MaxTokens          int
	Stream             bool // forward reply fragments as they are generated
}

// ConfigFrom converts the file configuration. Replies are streamed.
func ConfigFrom(c *config.AgentConfig) Config {
	return Config{
		MaxConcurrency:     c.MaxConcurrency,
		ActionTimeout:      c.ActionTimeout.Duration,
		ActionMaxRetries:   c.ActionMaxRetries,
		HistoryTurns:       c.HistoryTurns,
		HistoryTokenBudget: c.HistoryTokenBudget,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		PersistTimeout:     c.PersistTimeout.Duration,
		Stream:             true,
	}
}

// Agent runs the reasoning cycle for each request.
type Agent struct {
	deps    Deps
	logger  *logx.Logger
	pending sync.WaitGroup
	config  Config
}

// New creates an Agent.
func New(deps Deps, cfg Config) (*Agent, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("agent requires a generator")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("agent")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	return &Agent{deps: deps, logger: deps.Logger, config: cfg}, nil
}

// Wait blocks until background interaction writes have finished.
func (a *Agent) Wait() {
	a.pending.Wait()
}

// turn is the per-request working state.
type turn struct {
	started time.Time
	meta    map[string]any
	cycle   *cycle
	path    string
	req     Request
}

// Process runs one turn and returns its response stream. The stream ends with
// exactly one final or error response and is then closed; failures never
// surface any other way. Consumers that stop reading early must cancel ctx.
func (a *Agent) Process(ctx context.Context, req Request) <-chan Response {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = logx.WithRequestID(ctx, req.RequestID)
	ctx = actions.WithCaller(ctx, actions.Caller{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		RequestID:      req.RequestID,
	})
	started := a.deps.Now()

	out := make(chan Response)
	go func() {
		defer close(out)

		if resp, ok := a.fromCache(ctx, req, started); ok {
			send(ctx, out, resp)
			return
		}

		work := func(ctx context.Context, emit func(Response) bool) {
			a.run(ctx, req, started, emit)
		}
		var stream <-chan Response
		if a.deps.Progress != nil {
			stream = progress.Track(ctx, a.deps.Progress, req.RequestID, work, a.progressResponse(req))
		} else {
			stream = direct(ctx, work)
		}
		for r := range stream {
			if !send(ctx, out, r) {
				return
			}
		}
	}()
	return out
}

// Cancel stops the turn running under requestID. It needs a progress
// indicator and reports whether such a turn was running.
func (a *Agent) Cancel(requestID string) bool {
	if a.deps.Progress == nil {
		return false
	}
	return a.deps.Progress.Cancel(requestID)
}

func (a *Agent) fromCache(ctx context.Context, req Request, started time.Time) (Response, bool) {
	if a.deps.Cache == nil {
		return Response{}, false
	}
	cached, ok, err := a.deps.Cache.Get(ctx, req.Message, req.UserID)
	switch {
	case err != nil:
		a.deps.Recorder.IncCache("error")
		a.logger.Warn("cache lookup failed, continuing without it: %v", err)
		return Response{}, false
	case !ok:
		a.deps.Recorder.IncCache("miss")
		return Response{}, false
	}
	a.deps.Recorder.IncCache("hit")

	meta := make(map[string]any, len(cached.Metadata)+3)
	maps.Copy(meta, cached.Metadata)
	meta[MetaFromCache] = true
	meta[MetaRequestID] = req.RequestID
	duration := a.deps.Now().Sub(started)
	meta[MetaDurationMS] = duration.Milliseconds()
	a.deps.Recorder.ObserveTurn(pathCache, metrics.StatusSuccess, duration)
	logx.Debug(ctx, "agent", "served from cache")

	return Response{
		Content:        cached.Content,
		ConversationID: req.ConversationID,
		Metadata:       meta,
		Timestamp:      a.deps.Now(),
		Kind:           KindFinal,
	}, true
}

func (a *Agent) progressResponse(req Request) func(progress.Notice) Response {
	return func(n progress.Notice) Response {
		return Response{
			Content:        n.Message,
			ConversationID: req.ConversationID,
			Metadata: map[string]any{
				MetaRequestID: req.RequestID,
				"elapsed_ms":  n.Elapsed.Milliseconds(),
				"seq":         n.Seq,
			},
			Timestamp: a.deps.Now(),
			Kind:      KindProgress,
		}
	}
}

// run executes the cycle and emits the terminal response.
func (a *Agent) run(ctx context.Context, req Request, started time.Time, emit func(Response) bool) {
	t := &turn{
		req:     req,
		started: started,
		cycle:   newCycle(CycleTransitions),
		path:    pathFull,
		meta: map[string]any{
			MetaRequestID: req.RequestID,
			MetaFromCache: false,
			MetaFastPath:  false,
			MetaToolsUsed: []string{},
		},
	}

	defer func() {
		if p := recover(); p != nil {
			a.fail(ctx, t, faults.New(faults.Generic, fmt.Sprintf("agent panicked: %v", p)), emit)
		}
	}()

	content, err := a.execute(ctx, t, emit)
	if err != nil {
		a.fail(ctx, t, err, emit)
		return
	}
	a.succeed(ctx, t, content, emit)
}

func (a *Agent) move(ctx context.Context, t *turn, next State) error {
	if err := t.cycle.to(next); err != nil {
		return faults.Wrap(faults.Generic, err, "agent cycle")
	}
	logx.DebugFlow(ctx, "agent", string(next), "enter")
	return nil
}

func (a *Agent) execute(ctx context.Context, t *turn, emit func(Response) bool) (string, error) {
	history := a.history(ctx, t.req)

	var system, prompt string
	if fp := ClassifyFastPath(t.req.Message); fp.Matched {
		t.path = pathFastPath
		t.meta[MetaFastPath] = true
		t.meta[MetaIntent] = fp.Category
		if err := a.move(ctx, t, StateFastPath); err != nil {
			return "", err
		}
		system, prompt = fastPathSystemPrompt, fastPathPrompt(t.req, history, a.config.HistoryTokenBudget)
	} else {
		if err := a.move(ctx, t, StateAnalyze); err != nil {
			return "", err
		}
		analysis, err := a.analyze(ctx, t.req, history)
		if err != nil {
			return "", err
		}
		t.meta[MetaIntent] = analysis.Intent

		// Every analysis gets a plan. Without actions to choose from it is
		// empty and the model is not asked for one.
		plan := &Plan{Strategy: StrategySequential, Reasoning: "no actions registered", Parameters: map[string]map[string]any{}}
		var results *ActionResults
		if catalogue := a.catalogue(); len(catalogue) > 0 {
			if err := a.move(ctx, t, StatePlan); err != nil {
				return "", err
			}
			p, err := a.plan(ctx, t.req, analysis, catalogue)
			if err != nil {
				return "", err
			}
			plan = &p

			if err := a.move(ctx, t, StateAct); err != nil {
				return "", err
			}
			r := a.act(ctx, p)
			if err := ctx.Err(); err != nil {
				return "", err //nolint:wrapcheck // Context error propagated as-is
			}
			results = &r
			t.meta[MetaToolsUsed] = append([]string{}, p.Actions...)
			if len(r.Errors) > 0 {
				t.meta[MetaActionErrors] = r.Errors
			}
		}
		system, prompt = respondSystemPrompt, respondPrompt(t.req, &analysis, plan, results, history, a.config.HistoryTokenBudget)
	}

	if err := a.move(ctx, t, StateRespond); err != nil {
		return "", err
	}
	content, provider, err := a.respond(ctx, t, system, prompt, emit)
	if err != nil {
		return "", err
	}
	if provider != "" {
		t.meta[MetaProvider] = provider
	}
	if err := a.move(ctx, t, StateDone); err != nil {
		return "", err
	}
	return content, nil
}

func (a *Agent) catalogue() []actions.CatalogueEntry {
	if a.deps.Actions == nil {
		return nil
	}
	return a.deps.Actions.Catalogue()
}

// history returns the prior turns to show the model: those on the request,
// else the most recent ones from memory. Memory failures only cost context.
func (a *Agent) history(ctx context.Context, req Request) []memory.Turn {
	if a.config.HistoryTurns <= 0 {
		return nil
	}
	if req.History != nil {
		if n := len(req.History); n > a.config.HistoryTurns {
			return req.History[n-a.config.HistoryTurns:]
		}
		return req.History
	}
	if a.deps.Memory == nil {
		return nil
	}
	turns, err := a.deps.Memory.RetrieveContext(ctx, req.UserID, req.ConversationID, "", a.config.HistoryTurns)
	if err != nil {
		a.logger.Warn("could not load conversation history: %v", err)
		return nil
	}
	return turns
}

// complete runs a non-streamed, low-temperature generation.
func (a *Agent) complete(ctx context.Context, system, prompt string) (string, error) {
	stream, err := a.deps.Generator.Generate(ctx, llm.GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: system,
		Temperature:  llm.Float(llm.TemperatureDeterministic),
		MaxTokens:    a.config.MaxTokens,
	})
	if err != nil {
		return "", err //nolint:wrapcheck // Generator errors are already classified
	}
	return llm.Collect(ctx, stream)
}

func (a *Agent) analyze(ctx context.Context, req Request, history []memory.Turn) (Analysis, error) {
	text, err := a.complete(ctx, analyzeSystemPrompt, analyzePrompt(req, history, a.config.HistoryTokenBudget))
	if err != nil {
		return Analysis{}, err
	}
	analysis, perr := parseAnalysis(text)
	if perr != nil {
		logx.Debug(ctx, "agent", "analysis output unusable (%v), using defaults", perr)
	}
	return analysis, nil
}

func (a *Agent) plan(ctx context.Context, req Request, analysis Analysis, catalogue []actions.CatalogueEntry) (Plan, error) {
	text, err := a.complete(ctx, planSystemPrompt, planPrompt(req, analysis, catalogue))
	if err != nil {
		return Plan{}, err
	}
	plan, dropped, perr := parsePlan(text, a.deps.Actions.Has)
	if perr != nil {
		logx.Debug(ctx, "agent", "plan output unusable (%v), running no actions", perr)
	}
	if len(dropped) > 0 {
		a.logger.Warn("plan named unknown actions, dropped: %s", strings.Join(dropped, ", "))
	}
	return plan, nil
}

// act runs the plan's actions. Individual failures are collected, never
// raised.
func (a *Agent) act(ctx context.Context, plan Plan) ActionResults {
	results := ActionResults{Results: make(map[string]*actions.Result, len(plan.Actions))}
	if len(plan.Actions) == 0 {
		results.Success = true
		return results
	}

	opts := actions.ExecOptions{Timeout: a.config.ActionTimeout, MaxRetries: a.config.ActionMaxRetries}
	if plan.Strategy == StrategyParallel && len(plan.Actions) > 1 {
		ops := make([]parallel.Op[*actions.Result], len(plan.Actions))
		for i, name := range plan.Actions {
			ops[i] = func(ctx context.Context) (*actions.Result, error) {
				return a.deps.Actions.Execute(ctx, name, plan.Parameters[name], opts), nil
			}
		}
		for i, o := range parallel.Execute(ctx, ops, a.config.MaxConcurrency) {
			res := o.Value
			if o.Err != nil {
				res = &actions.Result{Error: o.Err.Error(), Kind: errorKind(o.Err)}
			}
			results.Results[plan.Actions[i]] = res
		}
	} else {
		for _, name := range plan.Actions {
			results.Results[name] = a.deps.Actions.Execute(ctx, name, plan.Parameters[name], opts)
		}
	}

	for _, name := range plan.Actions {
		res := results.Results[name]
		if res.Success {
			results.Success = true
			continue
		}
		results.Errors = append(results.Errors, name+": "+res.Error)
	}
	return results
}

// respond streams the reply, forwarding fragments when streaming is on. It
// returns the full text and the provider that produced it.
func (a *Agent) respond(ctx context.Context, t *turn, system, prompt string, emit func(Response) bool) (string, string, error) {
	stream, err := a.deps.Generator.Generate(ctx, llm.GenerateRequest{
		Prompt:       prompt,
		SystemPrompt: system,
		Stream:       a.config.Stream,
		Temperature:  llm.Float(a.config.Temperature),
		MaxTokens:    a.config.MaxTokens,
	})
	if err != nil {
		return "", "", err //nolint:wrapcheck // Generator errors are already classified
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err() //nolint:wrapcheck // Context error propagated as-is
		case chunk, ok := <-stream:
			if !ok {
				return sb.String(), "", nil
			}
			if chunk.Error != nil {
				return "", "", chunk.Error
			}
			if chunk.Content != "" {
				sb.WriteString(chunk.Content)
				if a.config.Stream && !emit(a.response(t, chunk.Content, KindFragment, nil)) {
					return "", "", context.Canceled
				}
			}
			if chunk.Done {
				return sb.String(), chunk.Provider, nil
			}
		}
	}
}

func (a *Agent) response(t *turn, content string, kind ResponseKind, meta map[string]any) Response {
	return Response{
		Content:        content,
		ConversationID: t.req.ConversationID,
		Metadata:       meta,
		Timestamp:      a.deps.Now(),
		Kind:           kind,
	}
}

func (a *Agent) succeed(ctx context.Context, t *turn, content string, emit func(Response) bool) {
	duration := a.deps.Now().Sub(t.started)
	t.meta[MetaDurationMS] = duration.Milliseconds()

	if tools, _ := t.meta[MetaToolsUsed].([]string); len(tools) == 0 {
		a.cacheReply(ctx, t, content)
	}
	a.persist(ctx, t, content)

	a.deps.Recorder.ObserveTurn(t.path, metrics.StatusSuccess, duration)
	logx.Debug(ctx, "agent", "turn done: %s (%dms)", t.cycle, duration.Milliseconds())
	emit(a.response(t, content, KindFinal, t.meta))
}

func (a *Agent) fail(ctx context.Context, t *turn, err error, emit func(Response) bool) {
	_ = t.cycle.to(StateError)
	duration := a.deps.Now().Sub(t.started)
	kind := errorKind(err)
	t.meta[MetaErrorKind] = kind
	t.meta[MetaDurationMS] = duration.Milliseconds()

	a.deps.Recorder.ObserveTurn(t.path, metrics.StatusError, duration)
	a.logger.Warn("request %s failed (%s) after %s: %v", t.req.RequestID, kind, t.cycle, err)
	emit(a.response(t, userMessage(err), KindError, t.meta))
}

func (a *Agent) cacheReply(ctx context.Context, t *turn, content string) {
	if a.deps.Cache == nil {
		return
	}
	meta := make(map[string]any, len(t.meta))
	for k, v := range t.meta {
		switch k {
		case MetaRequestID, MetaDurationMS:
		default:
			meta[k] = v
		}
	}
	if err := a.deps.Cache.Put(ctx, t.req.Message, t.req.UserID, CachedResponse{Content: content, Metadata: meta}); err != nil {
		a.logger.Warn("could not cache reply: %v", err)
	}
}

// persist records the interaction in the background; failures are logged.
func (a *Agent) persist(ctx context.Context, t *turn, content string) {
	if a.deps.Memory == nil {
		return
	}
	interaction := memory.Interaction{
		UserID:         t.req.UserID,
		ConversationID: t.req.ConversationID,
		UserMessage:    t.req.Message,
		AgentResponse:  content,
		Metadata:       maps.Clone(t.meta),
		CreatedAt:      a.deps.Now(),
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.PersistTimeout)
		defer cancel()
		if err := a.deps.Memory.StoreInteraction(pctx, interaction); err != nil {
			a.logger.Warn("could not store interaction for %s: %v", t.req.ConversationID, err)
		}
	}()
}

func send(ctx context.Context, out chan<- Response, r Response) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// direct runs work without progress notices.
func direct(ctx context.Context, work func(ctx context.Context, emit func(Response) bool)) <-chan Response {
	out := make(chan Response)
	go func() {
		defer close(out)
		work(ctx, func(r Response) bool { return send(ctx, out, r) })
	}()
	return out
}
