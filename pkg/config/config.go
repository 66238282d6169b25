// Package config provides configuration loading, validation, and secret resolution for the agent engine.
// It handles JSON and YAML config files with environment variable substitution.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Cache and memory backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	MemoryBackendSQLite = "sqlite"
	MemoryBackendNone   = "none"
)

// Duration is a time.Duration that reads "1.5s"-style strings from JSON and YAML.
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration in code.
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are nanoseconds.
		var n int64
		if nerr := json.Unmarshal(b, &n); nerr != nil {
			return fmt.Errorf("invalid duration %s: %w", string(b), err)
		}
		d.Duration = time.Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q at line %d: %w", value.Value, value.Line, err)
	}
	d.Duration = parsed
	return nil
}

// ProviderConfig describes one generation backend in the fallback chain.
// Order in Config.Providers is the chain order: primary first.
type ProviderConfig struct {
	Name              string  `json:"name" yaml:"name"`
	Kind              string  `json:"kind" yaml:"kind"`
	Model             string  `json:"model" yaml:"model"`
	APIKey            string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`   // Falls back to the kind's env var
	BaseURL           string  `json:"base_url,omitempty" yaml:"base_url,omitempty"` // Ollama host
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// CircuitConfig holds circuit breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold"`
	RecoveryTimeout  Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
}

// ResilienceConfig holds retry and circuit settings for provider calls.
type ResilienceConfig struct {
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	BaseRetryDelay Duration      `json:"base_retry_delay" yaml:"base_retry_delay"`
	MaxRetryDelay  Duration      `json:"max_retry_delay" yaml:"max_retry_delay"`
	Jitter         bool          `json:"jitter" yaml:"jitter"`
	RequestTimeout Duration      `json:"request_timeout" yaml:"request_timeout"` // per attempt; 0 disables
	Circuit        CircuitConfig `json:"circuit" yaml:"circuit"`
}

// AgentConfig holds settings for the reasoning cycle and action execution.
type AgentConfig struct {
	MaxConcurrency     int      `json:"max_concurrency" yaml:"max_concurrency"`
	ActionTimeout      Duration `json:"action_timeout" yaml:"action_timeout"`
	ActionMaxRetries   int      `json:"action_max_retries" yaml:"action_max_retries"`
	ActionRetryDelay   Duration `json:"action_retry_delay" yaml:"action_retry_delay"`
	ActionMaxDelay     Duration `json:"action_max_retry_delay" yaml:"action_max_retry_delay"`
	ProgressThreshold  Duration `json:"progress_threshold" yaml:"progress_threshold"`
	ProgressInterval   Duration `json:"progress_interval" yaml:"progress_interval"`
	HistoryTurns       int      `json:"history_turns" yaml:"history_turns"`
	HistoryTokenBudget int      `json:"history_token_budget" yaml:"history_token_budget"`
	Temperature        float64  `json:"temperature" yaml:"temperature"`
	MaxTokens          int      `json:"max_tokens" yaml:"max_tokens"`
	PersistTimeout     Duration `json:"persist_timeout" yaml:"persist_timeout"`
}

// CacheConfig selects the request cache backend.
type CacheConfig struct {
	Backend       string   `json:"backend" yaml:"backend"`
	TTL           Duration `json:"ttl" yaml:"ttl"`
	KeyPrefix     string   `json:"key_prefix" yaml:"key_prefix"`
	RedisAddr     string   `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// MetricsConfig controls Prometheus metric collection.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Config represents the full engine configuration.
type Config struct {
	Providers  []ProviderConfig `json:"providers" yaml:"providers"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Agent      AgentConfig      `json:"agent" yaml:"agent"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// Default returns the configuration the CLI uses when no file is given.
// Loading a file never merges these values in.
func Default() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Name: "claude", Kind: ProviderAnthropic, Model: "claude-sonnet-4-5"},
			{Name: "gpt", Kind: ProviderOpenAI, Model: "gpt-4.1-mini"},
			{Name: "local", Kind: ProviderOllama, Model: "llama3.2"},
		},
		Resilience: ResilienceConfig{
			MaxRetries:     3,
			BaseRetryDelay: D(time.Second),
			MaxRetryDelay:  D(30 * time.Second),
			RequestTimeout: D(2 * time.Minute),
			Circuit: CircuitConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				RecoveryTimeout:  D(60 * time.Second),
			},
		},
		Agent: AgentConfig{
			MaxConcurrency:     5,
			ActionTimeout:      D(30 * time.Second),
			ActionMaxRetries:   3,
			ActionRetryDelay:   D(time.Second),
			ActionMaxDelay:     D(8 * time.Second),
			ProgressThreshold:  D(2 * time.Second),
			ProgressInterval:   D(3 * time.Second),
			HistoryTurns:       5,
			HistoryTokenBudget: 2000,
			Temperature:        0.7,
			MaxTokens:          1024,
			PersistTimeout:     D(10 * time.Second),
		},
		Cache: CacheConfig{
			Backend:   CacheBackendMemory,
			TTL:       D(5 * time.Minute),
			KeyPrefix: "agentengine:response",
		},
		Memory: MemoryConfig{
			Backend: MemoryBackendNone,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "agentengine",
		},
	}
}

// Validate checks that every externally supplied value is usable.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s: model is required", p.Name)
		}
		if p.RequestsPerSecond < 0 || p.Burst < 0 {
			return fmt.Errorf("provider %s: rate limit values must not be negative", p.Name)
		}
	}

	r := &c.Resilience
	if r.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must not be negative")
	}
	if r.BaseRetryDelay.Duration <= 0 {
		return fmt.Errorf("resilience.base_retry_delay must be positive")
	}
	if r.MaxRetryDelay.Duration < r.BaseRetryDelay.Duration {
		return fmt.Errorf("resilience.max_retry_delay must be >= base_retry_delay")
	}
	if r.RequestTimeout.Duration < 0 {
		return fmt.Errorf("resilience.request_timeout must not be negative")
	}
	if r.Circuit.FailureThreshold < 1 || r.Circuit.SuccessThreshold < 1 {
		return fmt.Errorf("resilience.circuit thresholds must be >= 1")
	}
	if r.Circuit.RecoveryTimeout.Duration <= 0 {
		return fmt.Errorf("resilience.circuit.recovery_timeout must be positive")
	}

	a := &c.Agent
	if a.MaxConcurrency < 1 {
		return fmt.Errorf("agent.max_concurrency must be >= 1")
	}
	if a.ActionTimeout.Duration <= 0 {
		return fmt.Errorf("agent.action_timeout must be positive")
	}
	if a.ActionMaxRetries < 0 {
		return fmt.Errorf("agent.action_max_retries must not be negative")
	}
	if a.ActionRetryDelay.Duration <= 0 || a.ActionMaxDelay.Duration < a.ActionRetryDelay.Duration {
		return fmt.Errorf("agent.action_retry_delay must be positive and <= action_max_retry_delay")
	}
	if a.ProgressThreshold.Duration <= 0 || a.ProgressInterval.Duration <= 0 {
		return fmt.Errorf("agent.progress_threshold and progress_interval must be positive")
	}
	if a.HistoryTurns < 0 || a.HistoryTokenBudget < 0 {
		return fmt.Errorf("agent history limits must not be negative")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("agent.temperature must be within [0, 2]")
	}
	if a.MaxTokens < 1 {
		return fmt.Errorf("agent.max_tokens must be >= 1")
	}
	if a.PersistTimeout.Duration <= 0 {
		return fmt.Errorf("agent.persist_timeout must be positive")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL.Duration <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	switch c.Memory.Backend {
	case MemoryBackendNone:
	case MemoryBackendSQLite:
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend)
	}

	return nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}
