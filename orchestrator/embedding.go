package orchestrator

import (
	"context"
	"time"

	"github.com/vantagegw/llm-gateway/cache"
	"github.com/vantagegw/llm-gateway/cost"
	"github.com/vantagegw/llm-gateway/internal/logging"
	"github.com/vantagegw/llm-gateway/internal/metrics"
	"github.com/vantagegw/llm-gateway/internal/tokenizer"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
	"github.com/vantagegw/llm-gateway/usage"
)

// Embed runs the embedding state machine (C12): same shape as Complete
// (cache lookup, routing, budget check, provider call with fallback,
// exactly-once usage/cost tracking) but always cacheable, never streamed,
// and priced with the embedding formula.
func (o *Orchestrator) Embed(ctx context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	log := logging.FromContext(ctx)
	start := time.Now()
	requestID := newRequestID()
	originalModel := req.Model

	inputTexts := embeddingInputTexts(req.Input)

	if o.Filter != nil {
		if r := o.Filter.FilterPrompt(inputTexts); !r.Allowed {
			metrics.FilterDenials.WithLabelValues(filterStage(r.Reason), "prompt").Inc()
			return nil, &providers.ContentFilteredError{Reason: r.Reason, Categories: r.Categories}
		}
	}

	var fingerprint string
	if o.Cache != nil {
		dimensions := 0
		if req.Dimensions != nil {
			dimensions = *req.Dimensions
		}
		fingerprint = cache.FingerprintEmbedding(originalModel, req.Input, dimensions)
		if entry, ok := o.Cache.Get(ctx, fingerprint); ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			if resp, ok := entry.Value.(*providers.EmbeddingResponse); ok {
				cp := *resp
				return &cp, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	result := o.Router.RouteEmbedding(ctx, req)
	if !result.Success {
		return nil, result.Error
	}

	promptTokens := tokenizer.CountPromptTokens(result.EffectiveModelID, textsToMessages(inputTexts))
	if o.Pricing != nil {
		price := o.Pricing.GetModelPricing(ctx, result.Provider, result.EffectiveModelID)
		estimatedCost := cost.CalculateEmbedding(price, promptTokens)
		if !o.checkBudget(ctx, req.User, req.ProjectID, estimatedCost) {
			return nil, &providers.BudgetExceededError{UserID: req.User, ProjectID: req.ProjectID, Message: "estimated cost exceeds remaining budget"}
		}
	}

	p, err := o.resolveProvider(result.Provider)
	if err != nil {
		return nil, err
	}
	ep, ok := p.(providers.EmbeddingProvider)
	if !ok {
		return nil, &providers.RoutingError{Message: "provider " + result.Provider + " does not support embeddings"}
	}

	callReq := req
	callReq.Model = result.ProviderModelID

	servingProvider := result.Provider
	resp, callErr := ep.Embed(ctx, callReq)
	fallbackUsed := false
	if callErr != nil && providers.IsRetriable(callErr) {
		fallbackUsed = true
		resp, callErr = o.Fallback.RunEmbedding(ctx, result.EffectiveModelID, callErr, func(ctx context.Context, mapping registry.Mapping) (*providers.EmbeddingResponse, error) {
			fp, ferr := o.resolveProvider(mapping.Provider)
			if ferr != nil {
				return nil, ferr
			}
			fep, ok := fp.(providers.EmbeddingProvider)
			if !ok {
				return nil, &providers.RoutingError{Message: "provider " + mapping.Provider + " does not support embeddings"}
			}
			fcReq := req
			fcReq.Model = mapping.ProviderModelID
			r, e := fep.Embed(ctx, fcReq)
			if e == nil {
				servingProvider = mapping.Provider
			}
			return r, e
		})
	}

	latency := time.Since(start)
	if callErr != nil {
		metrics.RequestsTotal.WithLabelValues(servingProvider, originalModel, "error").Inc()
		log.Error("embedding failed", "model", originalModel, "latency_ms", latency.Milliseconds(), "error", callErr.Error())
		return nil, callErr
	}
	if fallbackUsed {
		metrics.FallbackAttempts.WithLabelValues(originalModel, "success").Inc()
	}

	resp.Model = originalModel

	o.trackUsage(ctx, usage.Record{
		ID:            requestID,
		RequestID:     requestID,
		UserID:        req.User,
		Provider:      servingProvider,
		ModelID:       originalModel,
		OperationType: usage.OperationEmbedding,
		PromptTokens:  resp.Usage.PromptTokens,
		ProjectID:     req.ProjectID,
		Tags:          req.Tags,
	})
	costUSD := o.trackEmbeddingCost(ctx, req.User, req.ProjectID, servingProvider, originalModel, resp.Usage.PromptTokens)

	if o.Cache != nil {
		cp := *resp
		o.Cache.Set(ctx, fingerprint, cache.Entry{Fingerprint: fingerprint, Value: &cp, ExpiresAt: time.Now().Add(o.cacheTTL())})
	}

	metrics.RequestDuration.WithLabelValues(servingProvider, originalModel).Observe(latency.Seconds())
	metrics.RequestsTotal.WithLabelValues(servingProvider, originalModel, "success").Inc()
	metrics.TokensInput.WithLabelValues(servingProvider, originalModel).Add(float64(resp.Usage.PromptTokens))

	log.Info("embedding succeeded", "model", originalModel, "provider", servingProvider, "latency_ms", latency.Milliseconds(), "cost_usd", costUSD)

	return resp, nil
}

func (o *Orchestrator) trackEmbeddingCost(ctx context.Context, userID, projectID, provider, modelID string, promptTokens int) float64 {
	if o.Pricing == nil {
		return 0
	}
	price := o.Pricing.GetModelPricing(ctx, provider, modelID)
	amount := cost.CalculateEmbedding(price, promptTokens)
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

func embeddingInputTexts(input interface{}) []string {
	switch v := input.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func textsToMessages(texts []string) []providers.Message {
	out := make([]providers.Message, len(texts))
	for i, t := range texts {
		out[i] = providers.Message{Content: t}
	}
	return out
}
