package agent

import (
	"fmt"

	"agentengine/pkg/agent/internal/llmimpl/anthropic"
	"agentengine/pkg/agent/internal/llmimpl/google"
	"agentengine/pkg/agent/internal/llmimpl/ollama"
	"agentengine/pkg/agent/internal/llmimpl/openaiofficial"
	"agentengine/pkg/agent/llm"
	"agentengine/pkg/agent/middleware/logging"
	"agentengine/pkg/agent/middleware/metrics"
	"agentengine/pkg/agent/middleware/resilience/circuit"
	"agentengine/pkg/agent/middleware/resilience/ratelimit"
	"agentengine/pkg/agent/middleware/resilience/timeout"
	"agentengine/pkg/agent/middleware/validation"
	"agentengine/pkg/config"
	"agentengine/pkg/logx"
)

// ProviderFactory builds the configured provider chain, each provider wrapped
// in the shared middleware stack.
type ProviderFactory struct {
	config   *config.Config
	secrets  *config.Secrets
	recorder metrics.Recorder
	circuits *circuit.Registry
	limits   *ratelimit.ProviderLimiterMap
	logger   *logx.Logger
}

// NewProviderFactory creates a factory. Circuit state changes are reported to
// recorder as they happen.
func NewProviderFactory(cfg *config.Config, secrets *config.Secrets, recorder metrics.Recorder) *ProviderFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if secrets == nil {
		secrets = config.NewSecrets()
	}
	logger := logx.NewLogger("provider-factory")

	circuitConfig := circuit.Config{
		FailureThreshold: cfg.Resilience.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Resilience.Circuit.SuccessThreshold,
		RecoveryTimeout:  cfg.Resilience.Circuit.RecoveryTimeout.Duration,
	}
	circuits := circuit.NewRegistry(circuitConfig, circuit.WithStateChange(func(name string, from, to circuit.State) {
		logger.Warn("circuit %s: %s -> %s", name, from, to)
		recorder.SetCircuitState(name, int(to))
	}))

	rateLimitConfigs := make(map[string]ratelimit.Config, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		rateLimitConfigs[p.Name] = ratelimit.Config{RequestsPerSecond: p.RequestsPerSecond, Burst: p.Burst}
	}

	return &ProviderFactory{
		config:   cfg,
		secrets:  secrets,
		recorder: recorder,
		circuits: circuits,
		limits:   ratelimit.NewProviderLimiterMap(rateLimitConfigs),
		logger:   logger,
	}
}

// Circuits returns the registry shared by every provider the factory builds.
func (f *ProviderFactory) Circuits() *circuit.Registry {
	return f.circuits
}

// RateLimits returns the per-provider limiters.
func (f *ProviderFactory) RateLimits() *ratelimit.ProviderLimiterMap {
	return f.limits
}

// BuildChain returns one wrapped provider per configured entry, in config
// order: the first is primary, the rest are fallbacks.
func (f *ProviderFactory) BuildChain() ([]llm.Provider, error) {
	chain := make([]llm.Provider, 0, len(f.config.Providers))
	for i := range f.config.Providers {
		p, err := f.Build(&f.config.Providers[i])
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// Build creates the raw provider for pc and applies the middleware chain.
func (f *ProviderFactory) Build(pc *config.ProviderConfig) (llm.Provider, error) {
	raw, err := f.raw(pc)
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// Wrap applies the middleware chain to an already constructed provider:
// Metrics -> Logging -> CircuitBreaker -> RateLimit -> Timeout -> EmptyResponse -> provider.
// Retry is not a middleware; the orchestrator owns it so it can fail over.
func (f *ProviderFactory) Wrap(raw llm.Provider) llm.Provider {
	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, f.logger),
		logging.Middleware(logx.NewLogger("llm")),
		circuit.Middleware(f.circuits),
		ratelimit.Middleware(f.limits, f.recorder),
		timeout.Middleware(f.config.Resilience.RequestTimeout.Duration),
		validation.EmptyResponseMiddleware(),
	)
}

func (f *ProviderFactory) raw(pc *config.ProviderConfig) (llm.Provider, error) {
	credential, err := f.secrets.APIKey(pc)
	if err != nil {
		// The provider still joins the chain; it fails with AuthFailed on use.
		f.logger.Warn("provider %s: %v", pc.Name, err)
		credential = ""
	}

	switch pc.Kind {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeProvider(pc.Name, credential, pc.Model, pc.BaseURL), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialProvider(pc.Name, credential, pc.Model, pc.BaseURL), nil
	case config.ProviderGoogle:
		return google.NewGeminiProvider(pc.Name, credential, pc.Model, pc.BaseURL), nil
	case config.ProviderOllama:
		return ollama.NewProvider(pc.Name, credential, pc.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", pc.Kind)
	}
}
