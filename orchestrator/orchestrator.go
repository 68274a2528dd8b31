// Package orchestrator implements the completion, streaming, and embedding
// orchestrators (C10-C12): the state machines that compose the cache,
// router, fallback controller, content filter, usage ledger, and cost
// engine around a provider call.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vantagegw/llm-gateway/cache"
	"github.com/vantagegw/llm-gateway/cost"
	"github.com/vantagegw/llm-gateway/filter"
	"github.com/vantagegw/llm-gateway/internal/logging"
	"github.com/vantagegw/llm-gateway/internal/metrics"
	"github.com/vantagegw/llm-gateway/internal/tokenizer"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/router"
	"github.com/vantagegw/llm-gateway/usage"
)

// ProviderLookup resolves a provider by name. Gateway satisfies this via its
// existing Get method.
type ProviderLookup func(name string) (providers.Provider, bool)

// HealthCheckModel is the reserved model ID that bypasses the entire
// pipeline (no cache, filter, routing, or tracking) and always succeeds.
const HealthCheckModel = "system.ping"

// defaultEstimatedCompletionTokens is used to size a pre-call cost estimate
// when the request does not bound its own output length.
const defaultEstimatedCompletionTokens = 256

// Orchestrator composes the gateway's core components into the request
// pipelines described by the completion, streaming, and embedding state
// machines. All fields except Router and Lookup are optional; a nil
// component disables the stage it implements (e.g. nil Cache skips
// caching entirely, nil Budgets skips budget enforcement).
type Orchestrator struct {
	Router   *router.Router
	Fallback *router.FallbackController
	Lookup   ProviderLookup

	Cache   cache.Store
	Filter  *filter.Filter
	Usage   usage.Repo
	Pricing *cost.Resolver
	Budgets cost.Repo

	// MaxCacheableTemperature overrides cache.DefaultCacheableMaxTemperature.
	MaxCacheableTemperature float64
	// CacheTTL overrides DefaultCacheTTL for entries this orchestrator writes.
	CacheTTL time.Duration
}

// DefaultCacheTTL is used when Orchestrator.CacheTTL is unset.
const DefaultCacheTTL = 5 * time.Minute

func (o *Orchestrator) cacheTTL() time.Duration {
	if o.CacheTTL > 0 {
		return o.CacheTTL
	}
	return DefaultCacheTTL
}

// New constructs an Orchestrator. lookup and r must be non-nil; all other
// dependencies may be nil to disable their stage.
func New(r *router.Router, lookup ProviderLookup) *Orchestrator {
	return &Orchestrator{
		Router:   r,
		Fallback: router.NewFallbackController(r),
		Lookup:   lookup,
	}
}

func (o *Orchestrator) maxCacheableTemp() float64 {
	if o.MaxCacheableTemperature > 0 {
		return o.MaxCacheableTemperature
	}
	return cache.DefaultCacheableMaxTemperature
}

func requestTemperature(req providers.Request) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return 0
}

func requestMaxTokens(req providers.Request) int {
	if req.MaxCompletionTokens != nil {
		return *req.MaxCompletionTokens
	}
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return 0
}

func messageContents(messages []providers.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func fingerprintMessages(messages []providers.Message) []cache.FingerprintMessage {
	out := make([]cache.FingerprintMessage, len(messages))
	for i, m := range messages {
		out[i] = cache.FingerprintMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// estimatePreCallCost approximates the cost of a not-yet-issued completion
// so budget enforcement can run before any provider call. Prompt tokens are
// counted with the tokenizer dispatch; completion tokens use the request's
// own cap when set, else a conservative fixed guess, since the true output
// length is unknowable before the call.
func (o *Orchestrator) estimatePreCallCost(ctx context.Context, provider, modelID string, req providers.Request) float64 {
	if o.Pricing == nil {
		return 0
	}
	promptTokens := tokenizer.CountPromptTokens(modelID, req.Messages)
	completionTokens := requestMaxTokens(req)
	if completionTokens == 0 {
		completionTokens = defaultEstimatedCompletionTokens
	}
	price := o.Pricing.GetModelPricing(ctx, provider, modelID)
	return cost.Calculate(price, promptTokens, completionTokens)
}

// checkBudget runs the pre-call budget gate. It returns (true, nil) when
// Budgets is nil (enforcement disabled) or the request has no attributable
// user. Lookup failures fail open per cost.IsWithinBudget's contract; the
// error is logged, not propagated.
func (o *Orchestrator) checkBudget(ctx context.Context, userID, projectID string, estimatedCost float64) bool {
	if o.Budgets == nil || userID == "" {
		return true
	}
	ok, err := cost.IsWithinBudget(ctx, o.Budgets, userID, projectID, estimatedCost)
	if err != nil {
		logging.FromContext(ctx).Error("budget lookup failed, failing open", "user_id", userID, "project_id", projectID, "error", err.Error())
	}
	if !ok {
		metrics.BudgetDenials.WithLabelValues(userID, projectID).Inc()
	}
	return ok
}

// trackUsage appends one usage record, logging (never propagating) failures
// per the ledger/cost tracking error-handling policy.
func (o *Orchestrator) trackUsage(ctx context.Context, r usage.Record) {
	if o.Usage == nil {
		return
	}
	if err := o.Usage.Append(ctx, r); err != nil {
		logging.FromContext(ctx).Error("usage append failed", "request_id", r.RequestID, "error", err.Error())
	}
}

// trackCost resolves pricing for the actual token counts and records one
// cost.CostRecord, logging (never propagating) failures.
func (o *Orchestrator) trackCost(ctx context.Context, userID, projectID, provider, modelID string, promptTokens, completionTokens int) float64 {
	if o.Pricing == nil {
		return 0
	}
	price := o.Pricing.GetModelPricing(ctx, provider, modelID)
	amount := cost.Calculate(price, promptTokens, completionTokens)
	if o.Budgets != nil {
		record := cost.CostRecord{UserID: userID, ProjectID: projectID, AmountUSD: amount, Timestamp: time.Now().UTC()}
		if err := o.Budgets.CreateCostRecord(ctx, record); err != nil {
			logging.FromContext(ctx).Error("cost record failed", "user_id", userID, "error", err.Error())
		}
	}
	if amount > 0 {
		metrics.RequestCostUSD.WithLabelValues(provider, modelID).Add(amount)
	}
	return amount
}

func newRequestID() string {
	return logging.NewTraceID()
}

// toolsJSON canonicalizes a tool list for fingerprinting; marshal failure
// (never expected for this type) degrades to an empty fingerprint
// contribution rather than failing the request.
func toolsJSON(tools []providers.Tool) []byte {
	if len(tools) == 0 {
		return nil
	}
	b, err := json.Marshal(tools)
	if err != nil {
		return nil
	}
	return b
}

// filterStage classifies a filter.Result.Reason into the metrics "stage"
// label: blocked_term, regex (pattern match), or classifier (category
// threshold).
func filterStage(reason string) string {
	switch {
	case strings.HasPrefix(reason, "blocked_term:"):
		return "blocked_term"
	case reason == "blocked_pattern":
		return "regex"
	case reason == "category_threshold":
		return "classifier"
	default:
		return "unknown"
	}
}

// healthCheckResponse is returned for HealthCheckModel without touching any
// pipeline stage.
func healthCheckResponse() *providers.Response {
	return &providers.Response{
		ID:      "health",
		Object:  "chat.completion",
		Model:   HealthCheckModel,
		Choices: []providers.Choice{{Message: providers.Message{Role: providers.RoleAssistant, Content: "pong"}, FinishReason: "stop"}},
	}
}

// resolveProvider looks up a provider by name, wrapping the miss as a
// providers.ProviderNotFoundError so callers get a typed, client-surfaceable
// error.
func (o *Orchestrator) resolveProvider(name string) (providers.Provider, error) {
	p, ok := o.Lookup(name)
	if !ok {
		return nil, &providers.ProviderNotFoundError{Provider: name}
	}
	return p, nil
}

