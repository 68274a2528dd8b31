// Package aigateway provides a high-performance AI gateway
// for routing requests to large language model (LLM) providers.
//
// The Gateway type is the main entry point: create one with New, register
// providers with RegisterProvider, load plugins from config with LoadPlugins,
// and route requests with Route or RouteStream.
//
// Plugins and routing strategies (single, fallback, load-balance, conditional)
// are configured via [Config] which can be loaded from a YAML or JSON file
// using [LoadConfig].
package aigateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/vantagegw/llm-gateway/abtest"
	"github.com/vantagegw/llm-gateway/cache"
	"github.com/vantagegw/llm-gateway/cost"
	"github.com/vantagegw/llm-gateway/filter"
	"github.com/vantagegw/llm-gateway/internal/circuitbreaker"
	"github.com/vantagegw/llm-gateway/internal/logging"
	"github.com/vantagegw/llm-gateway/internal/metrics"
	"github.com/vantagegw/llm-gateway/models"
	"github.com/vantagegw/llm-gateway/orchestrator"
	"github.com/vantagegw/llm-gateway/plugin"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
	"github.com/vantagegw/llm-gateway/router"
	"github.com/vantagegw/llm-gateway/usage"
)

// EventHookFunc is called asynchronously after a gateway event (request
// completed or failed). It replaces the old EventPublisher interface with a
// simpler function-based hook pattern.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Gateway is the main entry point for routing LLM requests.
type Gateway struct {
	mu               sync.RWMutex
	config           Config
	catalog          models.Catalog
	providers        map[string]providers.Provider
	orch             *orchestrator.Orchestrator
	plugins          *plugin.Manager
	hooks            []EventHookFunc
	circuitBreakers  map[string]*circuitbreaker.CircuitBreaker
	discoveredModels map[string][]providers.ModelInfo
}

// New creates a new Gateway instance with the given configuration.
func New(cfg Config) (*Gateway, error) {
	catalog, err := models.Load()
	if err != nil {
		// Non-fatal: operate without model metadata (no enrichment / cost reporting).
		catalog = models.Catalog{}
	}
	return &Gateway{
		config:           cfg,
		catalog:          catalog,
		providers:        make(map[string]providers.Provider),
		plugins:          plugin.NewManager(),
		circuitBreakers:  make(map[string]*circuitbreaker.CircuitBreaker),
		discoveredModels: make(map[string][]providers.ModelInfo),
	}, nil
}

// Catalog returns a shallow copy of the loaded model catalog.
// A copy is returned so callers cannot mutate the gateway's internal catalog.
func (g *Gateway) Catalog() models.Catalog {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := make(models.Catalog, len(g.catalog))
	maps.Copy(cp, g.catalog)
	return cp
}

// Event subject constants used when invoking gateway hooks.
const (
	SubjectRequestCompleted = "gateway.request.completed"
	SubjectRequestFailed    = "gateway.request.failed"
)

// RegisterProvider registers a provider with the gateway.
func (g *Gateway) RegisterProvider(p providers.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
	g.orch = nil // force orchestrator/registry rebuild
}

// RegisterPlugin registers a plugin at the given lifecycle stage.
func (g *Gateway) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plugins.Register(stage, p)
}

// AddHook registers an EventHookFunc that is called asynchronously on each
// completed or failed request. Multiple hooks may be registered; all are
// invoked for every event.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Route runs a completion request through the orchestrator's C10 state
// machine (cache, routing/A-B, budget, fallback, usage/cost tracking),
// wrapped in the gateway's plugin hooks and event publishing.
func (g *Gateway) Route(ctx context.Context, req providers.Request) (*providers.Response, error) {
	log := logging.FromContext(ctx)

	// Resolve model alias before routing.
	req = g.resolveAlias(req)

	orch, err := g.getOrchestrator()
	if err != nil {
		return nil, err
	}

	// Run before-request plugins (guardrails, transforms, rate-limit).
	pctx := plugin.NewContext(&req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
			return nil, err
		}
	}
	// Propagate any modifications made by plugins (e.g., capped max_tokens).
	req = *pctx.Request

	resp, err := orch.Complete(ctx, req)
	if err != nil {
		pctx.Error = err
		g.plugins.RunOnError(ctx, pctx)

		errType := "provider_error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			errType = "circuit_open"
		}
		metrics.ProviderErrors.WithLabelValues("", errType).Inc()

		log.Error("request failed", "model", req.Model, "error", err.Error())

		g.publishEvent(ctx, SubjectRequestFailed, map[string]interface{}{
			"trace_id":  logging.TraceIDFromContext(ctx),
			"model":     req.Model,
			"error":     err.Error(),
			"status":    500,
			"timestamp": time.Now(),
		})
		return nil, err
	}

	// Ensure OpenAI-compatible envelope fields are always set.
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}

	// Run after-request plugins (logging, caching).
	if g.plugins.HasPlugins() {
		pctx.Response = resp
		_ = g.plugins.RunAfter(ctx, pctx)
	}

	log.Info("request completed",
		"model", resp.Model,
		"provider", resp.Provider,
		"tokens_in", resp.Usage.PromptTokens,
		"tokens_out", resp.Usage.CompletionTokens,
	)

	g.publishEvent(ctx, SubjectRequestCompleted, map[string]interface{}{
		"trace_id":   resp.ID,
		"provider":   resp.Provider,
		"model":      resp.Model,
		"status":     200,
		"tokens_in":  resp.Usage.PromptTokens,
		"tokens_out": resp.Usage.CompletionTokens,
		"timestamp":  time.Now(),
	})

	return resp, nil
}

// publishEvent calls all registered hooks asynchronously.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}

// ReloadConfig validates and applies a new configuration, forcing an orchestrator rebuild on next request.
func (g *Gateway) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config = cfg
	g.orch = nil // force rebuild on next request
	g.circuitBreakers = make(map[string]*circuitbreaker.CircuitBreaker)
	return nil
}

// GetConfig returns a copy of the current configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// getOrchestrator lazily builds the orchestrator.Orchestrator that backs
// Route, RouteStream, and Embed: a registry.Registry derived from the
// configured targets (so existing virtual-key/strategy configs keep working
// with zero extra config) plus any explicit Registry.Mappings, a router.Router
// wired to the A/B engine, and the cache/filter/usage/budget stages enabled
// by their respective config sections.
func (g *Gateway) getOrchestrator() (*orchestrator.Orchestrator, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orch != nil {
		return g.orch, nil
	}

	// Build circuit breakers for targets that have them configured.
	for _, t := range g.config.Targets {
		if t.CircuitBreaker == nil {
			continue
		}
		if _, exists := g.circuitBreakers[t.VirtualKey]; exists {
			continue
		}
		timeout, _ := time.ParseDuration(t.CircuitBreaker.Timeout)
		cb := circuitbreaker.New(t.CircuitBreaker.FailureThreshold, t.CircuitBreaker.SuccessThreshold, timeout)
		g.circuitBreakers[t.VirtualKey] = cb
	}

	targets := g.config.Targets
	if g.config.Strategy.Mode == ModeLoadBalance {
		targets = weightDescendingTargets(targets)
	}

	providerOrder := make([]string, 0, len(targets)+len(g.providers))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.VirtualKey] {
			continue
		}
		providerOrder = append(providerOrder, t.VirtualKey)
		seen[t.VirtualKey] = true
	}
	for name := range g.providers {
		if seen[name] {
			continue
		}
		providerOrder = append(providerOrder, name)
		seen[name] = true
	}

	lookup := func(name string) (providers.Provider, bool) {
		p, ok := g.providers[name]
		if !ok {
			return nil, false
		}
		if cb, hasCB := g.circuitBreakers[name]; hasCB {
			return &cbProvider{Provider: p, cb: cb, name: name}, true
		}
		return p, true
	}

	static := buildTargetOrderMappings(providerOrder, lookup)
	for _, mc := range g.config.Registry.Mappings {
		static[mc.ModelID] = modelMappingFromConfig(mc)
	}
	staticList := make([]registry.Mapping, 0, len(static))
	for _, m := range static {
		staticList = append(staticList, m)
	}

	ttl := time.Duration(0)
	if g.config.Registry.CacheTTL != "" {
		if d, err := time.ParseDuration(g.config.Registry.CacheTTL); err == nil {
			ttl = d
		}
	}
	reg := registry.New(staticList, providerOrder, lookup, true, ttl)

	var abEngine *abtest.Engine
	if g.config.ABTest.Enabled {
		repo, err := buildABRepo(g.config.ABTest)
		if err != nil {
			return nil, fmt.Errorf("build ab repo: %w", err)
		}
		abEngine = abtest.New(repo)
	}

	o := orchestrator.New(router.New(reg, abEngine), lookup)
	o.Pricing = cost.NewResolver(reg, g.catalog)

	if g.config.Cache.Enabled {
		capacity := g.config.Cache.MaxEntries
		if capacity <= 0 {
			capacity = 10000
		}
		o.Cache = cache.NewMemory(capacity)
		if g.config.Cache.TTL != "" {
			if d, err := time.ParseDuration(g.config.Cache.TTL); err == nil {
				o.CacheTTL = d
			}
		}
		if g.config.Cache.CacheableMaxTemp > 0 {
			o.MaxCacheableTemperature = g.config.Cache.CacheableMaxTemp
		}
	}

	if g.config.Filter.Enable {
		f, err := filter.New(filter.Config{
			Enable:               g.config.Filter.Enable,
			FilterPrompts:        g.config.Filter.FilterPrompts,
			FilterCompletions:    g.config.Filter.FilterCompletions,
			BlockedTerms:         g.config.Filter.BlockedTerms,
			BlockedRegexPatterns: g.config.Filter.BlockedRegexPatterns,
			CategoryThresholds:   g.config.Filter.CategoryThresholds,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("build content filter: %w", err)
		}
		o.Filter = f
	}

	usageRepo, err := buildUsageRepo(g.config.Budget)
	if err != nil {
		return nil, fmt.Errorf("build usage repo: %w", err)
	}
	o.Usage = usageRepo

	if g.config.Budget.Enabled {
		budgetRepo, err := buildCostRepo(g.config.Budget)
		if err != nil {
			return nil, fmt.Errorf("build budget repo: %w", err)
		}
		o.Budgets = budgetRepo
	}

	g.orch = o
	return o, nil
}

// buildTargetOrderMappings derives one registry.Mapping per (model, provider)
// pair from order's providers' supported model lists, in order. The first
// target to claim a model becomes its primary mapping; subsequent targets
// that also support it become fallback mappings registered under a
// provider-qualified shadow model ID and appended to the primary's Fallbacks
// list. This reproduces the legacy single/fallback strategy behavior (try
// targets in configured order) as model-ID fallback chains the router and
// fallback controller already understand. Conditional configs get the same
// plain target order; their per-request conditions are not evaluated.
func buildTargetOrderMappings(order []string, lookup func(string) (providers.Provider, bool)) map[string]registry.Mapping {
	out := make(map[string]registry.Mapping)
	primaryOwner := make(map[string]string) // modelID -> mapping key of its primary entry

	for _, name := range order {
		p, ok := lookup(name)
		if !ok {
			continue
		}
		supports := supportsForProvider(p)
		for _, modelID := range p.SupportedModels() {
			ownerKey, exists := primaryOwner[modelID]
			if !exists {
				out[modelID] = registry.Mapping{
					ModelID:         modelID,
					DisplayName:     modelID,
					Provider:        name,
					ProviderModelID: modelID,
					Supports:        supports,
				}
				primaryOwner[modelID] = modelID
				continue
			}
			shadowID := modelID + "@" + name
			out[shadowID] = registry.Mapping{
				ModelID:         shadowID,
				DisplayName:     modelID,
				Provider:        name,
				ProviderModelID: modelID,
				Supports:        supports,
			}
			primary := out[ownerKey]
			primary.Fallbacks = append(primary.Fallbacks, shadowID)
			out[ownerKey] = primary
		}
	}
	return out
}

func supportsForProvider(p providers.Provider) registry.Supports {
	_, streaming := p.(providers.StreamProvider)
	_, embedding := p.(providers.EmbeddingProvider)
	return registry.Supports{Completion: true, Embedding: embedding, Streaming: streaming}
}

func modelMappingFromConfig(mc ModelMappingConfig) registry.Mapping {
	return registry.Mapping{
		ModelID:             mc.ModelID,
		DisplayName:         mc.DisplayName,
		Provider:            mc.Provider,
		ProviderModelID:     mc.ProviderModelID,
		ContextWindow:       mc.ContextWindow,
		InputPricePerToken:  mc.InputPricePerToken,
		OutputPricePerToken: mc.OutputPricePerToken,
		Supports: registry.Supports{
			Completion:      mc.SupportsCompletion,
			Embedding:       mc.SupportsEmbedding,
			Streaming:       mc.SupportsStreaming,
			FunctionCalling: mc.SupportsFunctionCalling,
			Vision:          mc.SupportsVision,
		},
		Fallbacks:  mc.Fallbacks,
		Properties: mc.Properties,
	}
}

// buildABRepo constructs the A/B engine's storage backend from ABTestConfig.
// Dialect "" or "memory" uses an in-process repo.
func buildABRepo(cfg ABTestConfig) (abtest.Repo, error) {
	switch cfg.Dialect {
	case "", "memory":
		return abtest.NewMemoryRepo(), nil
	case "sqlite":
		return abtest.NewSQLiteRepo(cfg.StorageDSN)
	case "postgres":
		return abtest.NewPostgresRepo(cfg.StorageDSN)
	default:
		return nil, fmt.Errorf("unknown ab_test dialect: %s", cfg.Dialect)
	}
}

// buildCostRepo constructs the budget/cost ledger's storage backend.
func buildCostRepo(cfg BudgetConfig) (cost.Repo, error) {
	switch cfg.Dialect {
	case "", "memory":
		return cost.NewMemoryRepo(), nil
	case "sqlite":
		return cost.NewSQLiteRepo(cfg.StorageDSN)
	case "postgres":
		return cost.NewPostgresRepo(cfg.StorageDSN)
	default:
		return nil, fmt.Errorf("unknown budget dialect: %s", cfg.Dialect)
	}
}

// buildUsageRepo constructs the token-usage ledger's storage backend, sharing
// BudgetConfig's dialect/DSN since usage and cost records are typically
// persisted to the same store. The ledger is always active (it has no
// enforcement side effects), independent of Budget.Enabled.
func buildUsageRepo(cfg BudgetConfig) (usage.Repo, error) {
	switch cfg.Dialect {
	case "", "memory":
		return usage.NewMemoryRepo(), nil
	case "sqlite":
		return usage.NewSQLiteRepo(cfg.StorageDSN)
	case "postgres":
		return usage.NewPostgresRepo(cfg.StorageDSN)
	default:
		return nil, fmt.Errorf("unknown budget dialect: %s", cfg.Dialect)
	}
}

// cbProvider wraps a Provider with a circuit breaker.
type cbProvider struct {
	providers.Provider
	cb   *circuitbreaker.CircuitBreaker
	name string
}

func (p *cbProvider) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if !p.cb.Allow() {
		metrics.CircuitBreakerState.WithLabelValues(p.name).Set(1) // open
		return nil, circuitbreaker.ErrCircuitOpen
	}
	resp, err := p.Provider.Complete(ctx, req)
	if err != nil {
		p.cb.RecordFailure()
		metrics.CircuitBreakerState.WithLabelValues(p.name).Set(float64(p.cb.State()))
		return nil, err
	}
	p.cb.RecordSuccess()
	metrics.CircuitBreakerState.WithLabelValues(p.name).Set(0) // closed
	return resp, nil
}

func (p *cbProvider) CompleteStream(ctx context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	if !p.cb.Allow() {
		metrics.CircuitBreakerState.WithLabelValues(p.name).Set(1) // open
		return nil, circuitbreaker.ErrCircuitOpen
	}
	sp, ok := p.Provider.(providers.StreamProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support streaming", p.name)
	}
	ch, err := sp.CompleteStream(ctx, req)
	if err != nil {
		p.cb.RecordFailure()
		metrics.CircuitBreakerState.WithLabelValues(p.name).Set(float64(p.cb.State()))
		return nil, err
	}
	p.cb.RecordSuccess()
	metrics.CircuitBreakerState.WithLabelValues(p.name).Set(0)
	return ch, nil
}

// LoadPlugins initializes and registers plugins from the gateway configuration.
func (g *Gateway) LoadPlugins() error {
	for _, pc := range g.config.Plugins {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
		}
		stage := plugin.Stage(pc.Stage)
		if err := g.RegisterPlugin(stage, p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

// RouteStream runs before-request plugins then delegates to the
// orchestrator's C11 streaming state machine, which resolves the provider
// through the same registry/router/fallback path as Route.
func (g *Gateway) RouteStream(ctx context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	log := logging.FromContext(ctx)

	// Resolve model alias before routing.
	req = g.resolveAlias(req)

	orch, err := g.getOrchestrator()
	if err != nil {
		return nil, err
	}

	// Run before-request plugins (word-filter, max-token, rate-limit, etc.).
	pctx := plugin.NewContext(&req)
	if g.plugins.HasPlugins() {
		if err := g.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.RequestsTotal.WithLabelValues("", req.Model, "rejected").Inc()
			return nil, err
		}
	}
	// Propagate any modifications made by plugins (e.g., capped max_tokens).
	req = *pctx.Request

	log.Info("stream request started", "model", req.Model)
	return orch.CompleteStream(ctx, req)
}

// weightDescendingTargets returns a copy of targets ordered by descending
// weight (ties keep their original relative order), so the registry's
// provider-order-based fallback chain prefers heavier-weighted targets first
// under load-balance mode. This replaces per-request weighted-random
// rotation: the registry is built once and reused across requests, so
// weighting is expressed as a stable preference order rather than a draw.
func weightDescendingTargets(targets []Target) []Target {
	out := make([]Target, len(targets))
	copy(out, targets)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := out[i].Weight, out[j].Weight
		if wi <= 0 {
			wi = 1
		}
		if wj <= 0 {
			wj = 1
		}
		return wi > wj
	})
	return out
}

// ── Registry-consolidation helpers ──────────────────────────────────────────
// These methods make *Gateway satisfy providers.ProviderSource so that HTTP
// handlers that previously held a *providers.Registry can accept the gateway
// directly instead.

// AllModels returns ModelInfo from all registered providers.
// If auto-discovery has run for a provider, discovered models take precedence
// over the provider's static model list.
func (g *Gateway) AllModels() []providers.ModelInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var models []providers.ModelInfo
	for name, p := range g.providers {
		if discovered, ok := g.discoveredModels[name]; ok && len(discovered) > 0 {
			models = append(models, discovered...)
		} else {
			models = append(models, p.Models()...)
		}
	}
	return models
}

// GetProvider returns a registered provider by name.
func (g *Gateway) GetProvider(name string) (providers.Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// Get satisfies providers.ProviderSource (alias for GetProvider).
func (g *Gateway) Get(name string) (providers.Provider, bool) {
	return g.GetProvider(name)
}

// ListProviders returns the names of all registered providers.
func (g *Gateway) ListProviders() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// List satisfies providers.ProviderSource (alias for ListProviders).
func (g *Gateway) List() []string {
	return g.ListProviders()
}

// FindByModel returns the first registered provider that supports the given model.
func (g *Gateway) FindByModel(model string) (providers.Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.providers {
		if p.SupportsModel(model) {
			return p, true
		}
	}
	return nil, false
}

// Close cleans up resources.
func (g *Gateway) Close() error {
	return nil
}

// ── Alias resolution ─────────────────────────────────────────────────────────

// resolveModelAlias returns the alias target for model, or model unchanged.
func (g *Gateway) resolveModelAlias(model string) string {
	g.mu.RLock()
	target, ok := g.config.Aliases[model]
	g.mu.RUnlock()
	if ok {
		return target
	}
	return model
}

// resolveAlias replaces req.Model with its configured alias target (if any).
func (g *Gateway) resolveAlias(req providers.Request) providers.Request {
	req.Model = g.resolveModelAlias(req.Model)
	return req
}

// ── Multi-modal endpoints ────────────────────────────────────────────────────

// Embed resolves the model alias and runs an embedding request through the
// orchestrator's embedding state machine (cache, routing, budget, fallback,
// usage/cost tracking).
func (g *Gateway) Embed(ctx context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	log := logging.FromContext(ctx)

	// Resolve model alias so embedding endpoints honour the same aliases as chat.
	req.Model = g.resolveModelAlias(req.Model)

	orch, err := g.getOrchestrator()
	if err != nil {
		return nil, err
	}

	resp, err := orch.Embed(ctx, req)
	if err != nil {
		log.Error("embedding request failed", "model", req.Model, "error", err.Error())
		return nil, err
	}

	log.Info("embedding request completed", "model", resp.Model, "tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// GenerateImage routes an image generation request to the first registered
// ImageProvider that supports the requested model.
func (g *Gateway) GenerateImage(ctx context.Context, req providers.ImageRequest) (*providers.ImageResponse, error) {
	log := logging.FromContext(ctx)

	// Resolve model alias so image endpoints honour the same aliases as chat.
	req.Model = g.resolveModelAlias(req.Model)

	g.mu.RLock()
	var ip providers.ImageProvider
	for _, p := range g.providers {
		if ip2, ok := p.(providers.ImageProvider); ok && p.SupportsModel(req.Model) {
			ip = ip2
			break
		}
	}
	g.mu.RUnlock()

	if ip == nil {
		return nil, fmt.Errorf("no image generation provider found for model: %s", req.Model)
	}

	resp, err := ip.GenerateImage(ctx, req)
	if err != nil {
		log.Error("image generation request failed", "model", req.Model, "error", err.Error())
		return nil, err
	}

	log.Info("image generation request completed", "model", req.Model, "images", len(resp.Data))
	return resp, nil
}

// ── Auto-discovery ───────────────────────────────────────────────────────────

// StartDiscovery periodically refreshes model lists from providers that implement
// DiscoveryProvider. It runs in a background goroutine until ctx is cancelled.
// interval must be greater than zero; an error is returned otherwise.
func (g *Gateway) StartDiscovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartDiscovery: interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx)
	go func() {
		g.runDiscovery(ctx, log)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.runDiscovery(ctx, log)
			}
		}
	}()
	return nil
}

func (g *Gateway) runDiscovery(ctx context.Context, log *slog.Logger) {
	g.mu.RLock()
	providersCopy := make(map[string]providers.Provider, len(g.providers))
	for k, v := range g.providers {
		providersCopy[k] = v
	}
	g.mu.RUnlock()

	for name, p := range providersCopy {
		dp, ok := p.(providers.DiscoveryProvider)
		if !ok {
			continue
		}
		models, err := dp.DiscoverModels(ctx)
		if err != nil {
			log.Error("model discovery failed", "provider", name, "error", err.Error())
			continue
		}
		g.mu.Lock()
		g.discoveredModels[name] = models
		g.mu.Unlock()
		log.Info("model discovery completed", "provider", name, "models", len(models))
	}
}
