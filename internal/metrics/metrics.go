// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by provider, model, and
	// outcome ("success", "error", "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts errors broken down by provider and error type
	// ("provider_error", "circuit_open", "timeout").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState tracks per-provider circuit breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit middleware
	// or plugin, labelled by key_type ("ip", "api_key", "plugin").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)

	// RequestCostUSD accumulates estimated request cost in USD by provider and
	// model.
	RequestCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_request_cost_usd_total",
			Help: "Total estimated request cost in USD by provider and model.",
		},
		[]string{"provider", "model"},
	)

	// CacheHits and CacheMisses count response-cache lookups by operation
	// ("completion", "embedding").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total response cache hits by operation.",
		},
		[]string{"operation"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total response cache misses by operation.",
		},
		[]string{"operation"},
	)

	// FilterDenials counts content-filter rejections by stage
	// ("blocked_term", "regex", "classifier") and surface ("prompt", "completion").
	FilterDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_filter_denials_total",
			Help: "Total content filter denials by stage and surface.",
		},
		[]string{"stage", "surface"},
	)

	// ABAssignments counts A/B variant assignments by experiment and variant.
	ABAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ab_assignments_total",
			Help: "Total A/B experiment variant assignments.",
		},
		[]string{"experiment_id", "variant"},
	)

	// BudgetDenials counts requests denied by budget enforcement.
	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_budget_denials_total",
			Help: "Total requests denied by budget enforcement.",
		},
		[]string{"user_id", "project_id"},
	)

	// FallbackAttempts counts fallback attempts by original model and outcome
	// ("success", "exhausted").
	FallbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_fallback_attempts_total",
			Help: "Total fallback attempts by original model and outcome.",
		},
		[]string{"model", "outcome"},
	)
)
