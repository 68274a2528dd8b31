package aigateway

// Config holds the configuration for the AI Gateway.
type Config struct {
	// Strategy defines how requests are routed (e.g., single, fallback, loadbalance).
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	// Targets is a list of provider targets to route requests to.
	Targets []Target `json:"targets" yaml:"targets"`
	// Plugins configuration (optional).
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	// Aliases maps a logical model ID clients may request to the model ID
	// actually passed to providers (e.g. "my-embed" -> "text-embedding-3-small").
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// Registry configures the C2 model registry (logical modelID -> provider
	// mapping, discovery union, pricing/capability metadata).
	Registry RegistryConfig `json:"registry,omitempty" yaml:"registry,omitempty"`
	// Cache configures the C3 fingerprinted response cache.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
	// Filter configures the C4 content filter.
	Filter FilterConfig `json:"filter,omitempty" yaml:"filter,omitempty"`
	// ABTest configures the C5 A/B experiment engine.
	ABTest ABTestConfig `json:"ab_test,omitempty" yaml:"ab_test,omitempty"`
	// Budget configures the C9 cost/budget engine's storage and enforcement mode.
	Budget BudgetConfig `json:"budget,omitempty" yaml:"budget,omitempty"`
}

// RegistryConfig configures the model registry (C2).
type RegistryConfig struct {
	// Mappings are statically configured logical model mappings, consulted
	// before provider discovery.
	Mappings []ModelMappingConfig `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	// DiscoveryEnabled is accepted in configuration but not read: the gateway
	// always builds its registry with discovery on, consulting each
	// registered provider's SupportsModel/Models() when a static mapping is
	// absent.
	DiscoveryEnabled bool `json:"discovery_enabled,omitempty" yaml:"discovery_enabled,omitempty"`
	// CacheTTL is the TTL for the "models:all"/"models:<id>" cache slots
	// (default 30m).
	CacheTTL string `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

// ModelMappingConfig statically declares a logical model -> provider mapping.
type ModelMappingConfig struct {
	ModelID            string            `json:"model_id" yaml:"model_id"`
	DisplayName        string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Provider           string            `json:"provider" yaml:"provider"`
	ProviderModelID    string            `json:"provider_model_id" yaml:"provider_model_id"`
	ContextWindow      int               `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	InputPricePerToken float64           `json:"input_price_per_token,omitempty" yaml:"input_price_per_token,omitempty"`
	OutputPricePerToken float64          `json:"output_price_per_token,omitempty" yaml:"output_price_per_token,omitempty"`
	SupportsCompletion     bool          `json:"supports_completion,omitempty" yaml:"supports_completion,omitempty"`
	SupportsEmbedding      bool          `json:"supports_embedding,omitempty" yaml:"supports_embedding,omitempty"`
	SupportsStreaming      bool          `json:"supports_streaming,omitempty" yaml:"supports_streaming,omitempty"`
	SupportsFunctionCalling bool         `json:"supports_function_calling,omitempty" yaml:"supports_function_calling,omitempty"`
	SupportsVision         bool          `json:"supports_vision,omitempty" yaml:"supports_vision,omitempty"`
	Fallbacks          []string          `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	Properties         map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// CacheConfig configures the fingerprinted response cache (C3).
type CacheConfig struct {
	Enabled            bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TTL                string  `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	MaxEntries         int     `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	CacheableMaxTemp   float64 `json:"cacheable_max_temperature,omitempty" yaml:"cacheable_max_temperature,omitempty"`
}

// FilterConfig configures the content filter (C4).
type FilterConfig struct {
	Enable               bool               `json:"enable,omitempty" yaml:"enable,omitempty"`
	FilterPrompts        bool               `json:"filter_prompts,omitempty" yaml:"filter_prompts,omitempty"`
	FilterCompletions    bool               `json:"filter_completions,omitempty" yaml:"filter_completions,omitempty"`
	BlockedTerms         []string           `json:"blocked_terms,omitempty" yaml:"blocked_terms,omitempty"`
	BlockedRegexPatterns []string           `json:"blocked_regex_patterns,omitempty" yaml:"blocked_regex_patterns,omitempty"`
	CategoryThresholds   map[string]float64 `json:"category_thresholds,omitempty" yaml:"category_thresholds,omitempty"`
}

// ABTestConfig configures the A/B experiment engine (C5).
type ABTestConfig struct {
	Enabled    bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	StorageDSN string `json:"storage_dsn,omitempty" yaml:"storage_dsn,omitempty"`
	Dialect    string `json:"dialect,omitempty" yaml:"dialect,omitempty"` // "memory" | "sqlite" | "postgres"
}

// BudgetConfig configures cost tracking and budget enforcement (C9).
type BudgetConfig struct {
	Enabled      bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	StorageDSN   string `json:"storage_dsn,omitempty" yaml:"storage_dsn,omitempty"`
	Dialect      string `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	// FailClosed is accepted in configuration but not read by the budget
	// gate: a budget lookup error always allows the request (fail open).
	FailClosed bool `json:"fail_closed,omitempty" yaml:"fail_closed,omitempty"`
}

// StrategyConfig defines the routing strategy.
type StrategyConfig struct {
	Mode       StrategyMode `json:"mode" yaml:"mode"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"` // For conditional routing
}

// StrategyMode represents the routing strategy mode.
type StrategyMode string

// StrategyMode constants define the supported routing strategies.
const (
	ModeSingle      StrategyMode = "single"
	ModeFallback    StrategyMode = "fallback"
	ModeLoadBalance StrategyMode = "loadbalance"
	ModeConditional StrategyMode = "conditional"
)

// Condition represents a condition for conditional routing.
type Condition struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	TargetKey string `json:"target_key" yaml:"target_key"`
}

// Target represents a specific provider target.
type Target struct {
	// VirtualKey is the unique identifier for the provider (or a virtual key in the vault).
	VirtualKey string `json:"virtual_key" yaml:"virtual_key"`
	// Weight is used for load balancing.
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Retry configuration for this target.
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	// CircuitBreaker configuration for this target (optional).
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int `json:"attempts" yaml:"attempts"`
}

// CircuitBreakerConfig configures the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the circuit
	// opens. Defaults to 5.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the number of consecutive successes in half-open state
	// required to close the circuit. Defaults to 1.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// Timeout is the duration the circuit stays open before transitioning to
	// half-open (e.g. "30s"). Defaults to "30s".
	Timeout string `json:"timeout" yaml:"timeout"`
}

// PluginConfig holds plugin configuration.
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Type    string                 `json:"type" yaml:"type"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config" yaml:"config"`
}
