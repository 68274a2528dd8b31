package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/vantagegw/llm-gateway/cache"
	"github.com/vantagegw/llm-gateway/internal/logging"
	"github.com/vantagegw/llm-gateway/internal/metrics"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
	"github.com/vantagegw/llm-gateway/usage"
)

// Complete runs the completion state machine (C10): cache lookup, routing,
// budget check, provider call with fallback on retriable errors, completion
// filtering, exactly-once usage/cost tracking, and a cache store gated on
// "cacheable and no fallback was needed". The returned response always
// carries the client's originally requested model ID, regardless of any
// A/B override or fallback that served it.
func (o *Orchestrator) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if req.Model == HealthCheckModel {
		return healthCheckResponse(), nil
	}

	log := logging.FromContext(ctx)
	start := time.Now()
	requestID := newRequestID()
	originalModel := req.Model

	if o.Filter != nil {
		if r := o.Filter.FilterPrompt(messageContents(req.Messages)); !r.Allowed {
			metrics.FilterDenials.WithLabelValues(filterStage(r.Reason), "prompt").Inc()
			return nil, &providers.ContentFilteredError{Reason: r.Reason, Categories: r.Categories}
		}
	}

	cacheable := cache.IsCompletionCacheable(req.Stream, requestTemperature(req), o.maxCacheableTemp())
	var fingerprint string
	if cacheable && o.Cache != nil {
		fingerprint = cache.Fingerprint(originalModel, fingerprintMessages(req.Messages), requestTemperature(req), requestMaxTokens(req), toolsJSON(req.Tools))
		if entry, ok := o.Cache.Get(ctx, fingerprint); ok {
			metrics.CacheHits.WithLabelValues("completion").Inc()
			if resp, ok := entry.Value.(*providers.Response); ok {
				cp := *resp
				return &cp, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("completion").Inc()
	}

	result := o.Router.RouteCompletion(ctx, req)
	if !result.Success {
		return nil, result.Error
	}

	estimatedCost := o.estimatePreCallCost(ctx, result.Provider, result.EffectiveModelID, req)
	if !o.checkBudget(ctx, req.User, req.ProjectID, estimatedCost) {
		return nil, &providers.BudgetExceededError{UserID: req.User, ProjectID: req.ProjectID, Message: "estimated cost exceeds remaining budget"}
	}

	p, err := o.resolveProvider(result.Provider)
	if err != nil {
		return nil, err
	}
	callReq := req
	callReq.Model = result.ProviderModelID

	servingProvider := result.Provider
	resp, callErr := p.Complete(ctx, callReq)
	fallbackUsed := false
	if callErr != nil && providers.IsRetriable(callErr) {
		fallbackUsed = true
		resp, callErr = o.Fallback.Run(ctx, result.EffectiveModelID, callErr, func(ctx context.Context, mapping registry.Mapping) (*providers.Response, error) {
			fp, ferr := o.resolveProvider(mapping.Provider)
			if ferr != nil {
				return nil, ferr
			}
			fcReq := req
			fcReq.Model = mapping.ProviderModelID
			r, e := fp.Complete(ctx, fcReq)
			if e == nil {
				servingProvider = mapping.Provider
			}
			return r, e
		})
	}

	latency := time.Since(start)
	if callErr != nil {
		var exhausted *providers.FallbackExhaustedError
		if errors.As(callErr, &exhausted) {
			metrics.FallbackAttempts.WithLabelValues(originalModel, "exhausted").Inc()
		}
		metrics.RequestsTotal.WithLabelValues(servingProvider, originalModel, "error").Inc()
		log.Error("completion failed", "model", originalModel, "latency_ms", latency.Milliseconds(), "error", callErr.Error())
		return nil, callErr
	}
	if fallbackUsed {
		metrics.FallbackAttempts.WithLabelValues(originalModel, "success").Inc()
	}

	resp.Model = originalModel
	resp.Provider = servingProvider
	if resp.ID == "" {
		resp.ID = requestID
	}

	if o.Filter != nil {
		for _, choice := range resp.Choices {
			if r := o.Filter.FilterCompletion(choice.Message.Content); !r.Allowed {
				metrics.FilterDenials.WithLabelValues(filterStage(r.Reason), "completion").Inc()
				return nil, &providers.ContentFilteredError{Reason: r.Reason, Categories: r.Categories}
			}
		}
	}

	o.trackUsage(ctx, usage.Record{
		ID:               requestID,
		RequestID:        requestID,
		UserID:           req.User,
		Provider:         servingProvider,
		ModelID:          originalModel,
		OperationType:    usage.OperationCompletion,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		ProjectID:        req.ProjectID,
		Tags:             req.Tags,
	})
	costUSD := o.trackCost(ctx, req.User, req.ProjectID, servingProvider, originalModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if cacheable && o.Cache != nil && !fallbackUsed {
		cp := *resp
		o.Cache.Set(ctx, fingerprint, cache.Entry{Fingerprint: fingerprint, Value: &cp, ExpiresAt: time.Now().Add(o.cacheTTL())})
	}

	metrics.RequestDuration.WithLabelValues(servingProvider, originalModel).Observe(latency.Seconds())
	metrics.RequestsTotal.WithLabelValues(servingProvider, originalModel, "success").Inc()
	metrics.TokensInput.WithLabelValues(servingProvider, originalModel).Add(float64(resp.Usage.PromptTokens))
	metrics.TokensOutput.WithLabelValues(servingProvider, originalModel).Add(float64(resp.Usage.CompletionTokens))

	log.Info("completion succeeded",
		"model", originalModel,
		"provider", servingProvider,
		"latency_ms", latency.Milliseconds(),
		"cost_usd", costUSD,
	)

	return resp, nil
}
