// Package router implements the router (C6) and fallback controller (C7):
// resolving a request to a concrete provider/model through the A/B engine
// and registry, and retrying with ordered fallback models on retriable
// provider errors.
package router

import (
	"context"

	"github.com/vantagegw/llm-gateway/abtest"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
)

// RoutingResult is the outcome of resolving a request to a provider/model.
type RoutingResult struct {
	Success          bool
	Provider         string
	ProviderModelID  string
	EffectiveModelID string
	Error            error
}

// Router resolves requests through the A/B engine, then the model registry,
// checking the capability the operation requires.
type Router struct {
	registry *registry.Registry
	ab       *abtest.Engine

	// fallbacksByError overrides the generic registry.Mapping.Fallbacks list
	// for a specific (modelID, errorCode) pair. May be nil.
	fallbacksByError map[string]map[string][]string
	// genericFallbacks is consulted when neither the mapping nor an
	// error-specific override has an entry.
	genericFallbacks []string
}

// New constructs a Router. ab may be nil, in which case A/B override is
// skipped and the requested model is used unchanged.
func New(reg *registry.Registry, ab *abtest.Engine) *Router {
	return &Router{registry: reg, ab: ab, fallbacksByError: map[string]map[string][]string{}}
}

// WithGenericFallbacks sets the fallback list consulted when a model has no
// mapping-level or error-specific fallbacks configured.
func (r *Router) WithGenericFallbacks(modelIDs []string) *Router {
	r.genericFallbacks = modelIDs
	return r
}

// WithErrorFallbacks configures the fallback list for a specific
// (modelID, errorCode) pair, taking precedence over the mapping's generic
// Fallbacks list.
func (r *Router) WithErrorFallbacks(modelID string, code providers.ErrorCode, fallbackModelIDs []string) *Router {
	byCode, ok := r.fallbacksByError[modelID]
	if !ok {
		byCode = map[string][]string{}
		r.fallbacksByError[modelID] = byCode
	}
	byCode[string(code)] = fallbackModelIDs
	return r
}

func (r *Router) effectiveModelID(ctx context.Context, requestedModelID, userID string) string {
	if r.ab == nil {
		return requestedModelID
	}
	return r.ab.GetModelForUser(ctx, requestedModelID, userID)
}

// RouteCompletion resolves req.Model to a provider/model pair capable of
// completion, after applying A/B override.
func (r *Router) RouteCompletion(ctx context.Context, req providers.Request) RoutingResult {
	return r.route(ctx, req.Model, req.User, func(s registry.Supports) bool { return s.Completion })
}

// RouteEmbedding resolves req.Model to a provider/model pair capable of
// embedding, after applying A/B override.
func (r *Router) RouteEmbedding(ctx context.Context, req providers.EmbeddingRequest) RoutingResult {
	return r.route(ctx, req.Model, req.User, func(s registry.Supports) bool { return s.Embedding })
}

func (r *Router) route(ctx context.Context, requestedModelID, userID string, capable func(registry.Supports) bool) RoutingResult {
	effectiveID := r.effectiveModelID(ctx, requestedModelID, userID)

	mapping, err := r.registry.Get(ctx, effectiveID)
	if err != nil {
		return RoutingResult{Success: false, Error: &providers.ModelNotFoundError{ModelID: effectiveID}}
	}

	if !capable(mapping.Supports) {
		return RoutingResult{Success: false, Error: &providers.RoutingError{
			Message: "model " + effectiveID + " does not support the requested operation",
		}}
	}

	return RoutingResult{
		Success:          true,
		Provider:         mapping.Provider,
		ProviderModelID:  mapping.ProviderModelID,
		EffectiveModelID: effectiveID,
	}
}

// GetFallbackModels returns the ordered fallback model list for
// (originalModelID, errorCode): an error-specific override if configured,
// else the registry mapping's own Fallbacks list, else the generic list.
// Ordering is deterministic in all three cases.
func (r *Router) GetFallbackModels(ctx context.Context, originalModelID string, code providers.ErrorCode) []string {
	if byCode, ok := r.fallbacksByError[originalModelID]; ok {
		if list, ok := byCode[string(code)]; ok {
			return list
		}
	}

	if mapping, err := r.registry.Get(ctx, originalModelID); err == nil && len(mapping.Fallbacks) > 0 {
		return mapping.Fallbacks
	}

	return r.genericFallbacks
}
