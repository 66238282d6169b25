package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"agentengine/pkg/actions"
	"agentengine/pkg/agent"
	"agentengine/pkg/agent/middleware/metrics"
	"agentengine/pkg/cache"
	"agentengine/pkg/config"
	"agentengine/pkg/logx"
	"agentengine/pkg/memory"
	"agentengine/pkg/orchestrator"
	"agentengine/pkg/progress"
)

// EnvSecretsPassword unlocks the encrypted secrets file given with --secrets.
const EnvSecretsPassword = "AGENTENGINE_SECRETS_PASSWORD"

// engine is every component of a running agent, built from one config.
type engine struct {
	config       *config.Config
	prometheus   *metrics.PrometheusRecorder // nil when metrics are disabled
	factory      *agent.ProviderFactory
	orchestrator *orchestrator.Orchestrator
	actions      *actions.Registry
	memory       memory.Store
	agent        *agent.Agent
	closers      []func() error
	logger       *logx.Logger
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(path)
}

// loadSecrets returns a resolver, decrypting path first when one is given.
func loadSecrets(path string) (*config.Secrets, error) {
	secrets := config.NewSecrets()
	if path == "" {
		return secrets, nil
	}
	password := os.Getenv(EnvSecretsPassword)
	if password == "" {
		return nil, fmt.Errorf("%s must be set to read %s", EnvSecretsPassword, path)
	}
	if err := secrets.Load(path, password); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	return secrets, nil
}

// newEngine wires the components in dependency order. On error everything
// already opened is closed again.
func newEngine(ctx context.Context, cfg *config.Config, secrets *config.Secrets) (*engine, error) {
	e := &engine{config: cfg, logger: logx.NewLogger("engine")}
	if err := e.open(ctx, secrets); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.logger.Debug("engine ready, provider chain %v", e.orchestrator.Providers())
	return e, nil
}

func (e *engine) open(ctx context.Context, secrets *config.Secrets) error {
	cfg := e.config

	var recorder metrics.Recorder = metrics.Nop()
	if cfg.Metrics.Enabled {
		e.prometheus = metrics.NewPrometheusRecorder(cfg.Metrics.Namespace)
		recorder = e.prometheus
	}

	e.factory = agent.NewProviderFactory(cfg, secrets, recorder)
	chain, err := e.factory.BuildChain()
	if err != nil {
		return err
	}
	e.orchestrator, err = orchestrator.New(chain, orchestrator.Config{
		MaxRetries: cfg.Resilience.MaxRetries,
		BaseDelay:  cfg.Resilience.BaseRetryDelay.Duration,
		MaxDelay:   cfg.Resilience.MaxRetryDelay.Duration,
		Jitter:     cfg.Resilience.Jitter,
	}, orchestrator.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if err := e.openMemory(); err != nil {
		return err
	}

	e.actions = actions.NewRegistry(actions.Config{
		DefaultTimeout: cfg.Agent.ActionTimeout.Duration,
		RetryDelay:     cfg.Agent.ActionRetryDelay.Duration,
		MaxRetryDelay:  cfg.Agent.ActionMaxDelay.Duration,
	}, actions.WithRecorder(recorder))
	if err := actions.RegisterBuiltins(e.actions, e.memory); err != nil {
		return fmt.Errorf("failed to register actions: %w", err)
	}

	responses, err := e.openCache(ctx)
	if err != nil {
		return err
	}

	e.agent, err = agent.New(agent.Deps{
		Generator: e.orchestrator,
		Actions:   e.actions,
		Memory:    e.memory,
		Cache:     responses,
		Progress: progress.New(progress.Config{
			Threshold: cfg.Agent.ProgressThreshold.Duration,
			Interval:  cfg.Agent.ProgressInterval.Duration,
		}),
		Recorder: recorder,
	}, agent.ConfigFrom(&cfg.Agent))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (e *engine) openMemory() error {
	if e.config.Memory.Backend != config.MemoryBackendSQLite {
		e.memory = memory.Nop()
		return nil
	}
	store, err := memory.OpenSQLite(e.config.Memory.Path)
	if err != nil {
		return err
	}
	e.memory = store
	e.closers = append(e.closers, store.Close)
	return nil
}

func (e *engine) openCache(ctx context.Context) (*cache.RequestCache[agent.CachedResponse], error) {
	c := e.config.Cache
	var store cache.Store
	switch c.Backend {
	case config.CacheBackendRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		redisStore, err := cache.NewRedisStore(dialCtx, cache.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, redisStore.Close)
		store = redisStore
	default:
		store = cache.NewMemoryStore()
	}
	return cache.NewRequestCache[agent.CachedResponse](store, c.KeyPrefix, c.TTL.Duration), nil
}

// Close waits for pending interaction writes, then releases stores in reverse
// opening order.
func (e *engine) Close() error {
	if e.agent != nil {
		e.agent.Wait()
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
