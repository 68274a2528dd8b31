// Package cost implements the cost engine (C9): per-token pricing
// resolution, completion/embedding/fine-tuning cost formulas, and
// period-windowed budget enforcement with a fail-open availability bias.
package cost

import (
	"context"
	"strings"

	"github.com/vantagegw/llm-gateway/models"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
)

// PerTokenPrice is an input/output price pair expressed in USD per token.
type PerTokenPrice struct {
	InputPricePerToken  float64
	OutputPricePerToken float64
}

// GlobalFallback is used when no other pricing source has an entry.
var GlobalFallback = PerTokenPrice{}

// Resolver looks up per-token pricing with a layered fallback chain:
// registry mapping (if it carries a non-zero price) -> models.Catalog ->
// providers.PricingTable -> a configured global fallback pair. This
// generalizes the teacher's two existing pricing sources instead of
// discarding either.
type Resolver struct {
	Registry       *registry.Registry
	Catalog        models.Catalog
	GlobalFallback PerTokenPrice
}

// NewResolver constructs a Resolver. catalog and reg may be nil; lookups
// simply skip a nil source and fall through the chain.
func NewResolver(reg *registry.Registry, catalog models.Catalog) *Resolver {
	return &Resolver{Registry: reg, Catalog: catalog, GlobalFallback: GlobalFallback}
}

// GetModelPricing resolves the per-token input/output price for a model,
// trying the registry mapping, then the model catalog, then the static
// provider pricing table, then the configured global fallback.
func (r *Resolver) GetModelPricing(ctx context.Context, provider, modelID string) PerTokenPrice {
	if r.Registry != nil {
		if m, err := r.Registry.Get(ctx, modelID); err == nil {
			if m.InputPricePerToken > 0 || m.OutputPricePerToken > 0 {
				return PerTokenPrice{InputPricePerToken: m.InputPricePerToken, OutputPricePerToken: m.OutputPricePerToken}
			}
		}
	}

	if r.Catalog != nil {
		key := modelID
		if provider != "" && !strings.Contains(modelID, "/") {
			key = provider + "/" + modelID
		}
		if model, ok := r.Catalog.Get(key); ok {
			p := model.Pricing
			price := PerTokenPrice{}
			if p.InputPerMTokens != nil {
				price.InputPricePerToken = *p.InputPerMTokens / 1_000_000
			}
			if p.OutputPerMTokens != nil {
				price.OutputPricePerToken = *p.OutputPerMTokens / 1_000_000
			}
			if price.InputPricePerToken > 0 || price.OutputPricePerToken > 0 {
				return price
			}
		}
	}

	if pricing, ok := providers.PricingTable[provider+"/"+modelID]; ok {
		return PerTokenPrice{
			InputPricePerToken:  pricing.InputPer1M / 1_000_000,
			OutputPricePerToken: pricing.OutputPer1M / 1_000_000,
		}
	}

	return r.GlobalFallback
}

// Calculate computes the completion cost: inputTokens*inputPrice +
// outputTokens*outputPrice, both per-token.
func Calculate(price PerTokenPrice, promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*price.InputPricePerToken + float64(completionTokens)*price.OutputPricePerToken
}

// CalculateEmbedding computes the embedding cost: inputTokens*inputPrice.
func CalculateEmbedding(price PerTokenPrice, promptTokens int) float64 {
	return float64(promptTokens) * price.InputPricePerToken
}

// CalculateFineTuning computes the fine-tuning cost:
// trainingTokens*fineTuningPricePerToken.
func CalculateFineTuning(fineTuningPricePerToken float64, trainingTokens int) float64 {
	return float64(trainingTokens) * fineTuningPricePerToken
}
