package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var healthStatuses = []string{"healthy", "degraded", "unavailable", "unknown"}

// PrometheusRecorder implements the Recorder interface using Prometheus metrics
// registered on its own registry.
type PrometheusRecorder struct {
	registry           *prometheus.Registry
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	tokensTotal        *prometheus.CounterVec
	failoversTotal     *prometheus.CounterVec
	providerHealth     *prometheus.GaugeVec
	circuitState       *prometheus.GaugeVec
	actionsTotal       *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	actionAttempts     *prometheus.HistogramVec
	cacheTotal         *prometheus.CounterVec
	turnsTotal         *prometheus.CounterVec
	turnDuration       *prometheus.HistogramVec
	throttleTotal      *prometheus.CounterVec
	queueWaitTime      *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with a fresh registry. namespace
// prefixes every metric name.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of provider generation attempts by provider, status, and error kind",
			},
			[]string{"provider", "status", "error_kind"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of provider generation attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_tokens_total",
				Help:      "Estimated tokens sent to and received from providers",
			},
			[]string{"provider", "type"},
		),
		failoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_failovers_total",
				Help:      "Times the orchestrator moved past a provider",
			},
			[]string{"provider", "error_kind"},
		),
		providerHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health",
				Help:      "Provider health status (1 for the current status)",
			},
			[]string{"provider", "status"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
			[]string{"name"},
		),
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_executions_total",
				Help:      "Total action executions by action and status",
			},
			[]string{"action", "status"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action executions including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		actionAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_attempts",
				Help:      "Attempts per action execution",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"action"},
		),
		cacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_cache_total",
				Help:      "Request cache lookups and writes by result",
			},
			[]string{"result"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_turns_total",
				Help:      "Agent turns by path (cache, fast_path, full) and status",
			},
			[]string{"path", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_turn_duration_seconds",
				Help:      "Duration of agent turns in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_throttle_total",
				Help:      "Total number of provider throttling events",
			},
			[]string{"provider", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_queue_wait_duration_seconds",
				Help:      "Time spent waiting for rate limit availability",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) ObserveGeneration(provider, status, errorKind string, promptTokens, completionTokens int, duration time.Duration) {
	p.generationsTotal.WithLabelValues(provider, status, errorKind).Inc()
	p.generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if status == StatusSuccess {
		p.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

func (p *PrometheusRecorder) IncFailover(provider, errorKind string) {
	p.failoversTotal.WithLabelValues(provider, errorKind).Inc()
}

func (p *PrometheusRecorder) SetProviderHealth(provider, status string) {
	for _, s := range healthStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		p.providerHealth.WithLabelValues(provider, s).Set(v)
	}
}

func (p *PrometheusRecorder) SetCircuitState(name string, state int) {
	p.circuitState.WithLabelValues(name).Set(float64(state))
}

func (p *PrometheusRecorder) ObserveAction(action, status string, attempts int, duration time.Duration) {
	p.actionsTotal.WithLabelValues(action, status).Inc()
	p.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
	p.actionAttempts.WithLabelValues(action).Observe(float64(attempts))
}

func (p *PrometheusRecorder) IncCache(result string) {
	p.cacheTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) ObserveTurn(path, status string, duration time.Duration) {
	p.turnsTotal.WithLabelValues(path, status).Inc()
	p.turnDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(provider, reason string) {
	p.throttleTotal.WithLabelValues(provider, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(provider string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(provider).Observe(duration.Seconds())
}

// WriteText writes every collected metric to w in the Prometheus text format.
func (p *PrometheusRecorder) WriteText(w io.Writer) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
