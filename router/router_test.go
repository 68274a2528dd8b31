package router

import (
	"context"
	"testing"
	"time"

	"github.com/vantagegw/llm-gateway/abtest"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
)

func testRegistry(mappings ...registry.Mapping) *registry.Registry {
	return registry.New(mappings, nil, nil, false, time.Minute)
}

func TestRouter_RouteCompletion_Success(t *testing.T) {
	reg := testRegistry(registry.Mapping{
		ModelID: "gpt-4", Provider: "openai", ProviderModelID: "gpt-4",
		Supports: registry.Supports{Completion: true},
	})
	r := New(reg, nil)
	result := r.RouteCompletion(context.Background(), providers.Request{Model: "gpt-4"})
	if !result.Success {
		t.Fatalf("expected successful routing, got error: %v", result.Error)
	}
	if result.Provider != "openai" || result.EffectiveModelID != "gpt-4" {
		t.Fatalf("unexpected routing result: %+v", result)
	}
}

func TestRouter_RouteCompletion_UnknownModel(t *testing.T) {
	reg := testRegistry()
	r := New(reg, nil)
	result := r.RouteCompletion(context.Background(), providers.Request{Model: "missing"})
	if result.Success {
		t.Fatalf("expected routing failure for unknown model")
	}
	if _, ok := result.Error.(*providers.ModelNotFoundError); !ok {
		t.Fatalf("expected ModelNotFoundError, got %T", result.Error)
	}
}

func TestRouter_RouteCompletion_UnsupportedCapability(t *testing.T) {
	reg := testRegistry(registry.Mapping{
		ModelID: "embed-only", Provider: "openai", ProviderModelID: "embed-only",
		Supports: registry.Supports{Embedding: true},
	})
	r := New(reg, nil)
	result := r.RouteCompletion(context.Background(), providers.Request{Model: "embed-only"})
	if result.Success {
		t.Fatalf("expected routing failure for a model lacking completion support")
	}
}

func TestRouter_RouteEmbedding_Success(t *testing.T) {
	reg := testRegistry(registry.Mapping{
		ModelID: "text-embedding-3-small", Provider: "openai", ProviderModelID: "text-embedding-3-small",
		Supports: registry.Supports{Embedding: true},
	})
	r := New(reg, nil)
	result := r.RouteEmbedding(context.Background(), providers.EmbeddingRequest{Model: "text-embedding-3-small"})
	if !result.Success {
		t.Fatalf("expected successful embedding routing, got error: %v", result.Error)
	}
}

func TestRouter_RouteCompletion_AppliesABOverride(t *testing.T) {
	reg := testRegistry(
		registry.Mapping{ModelID: "gpt-4", Provider: "openai", ProviderModelID: "gpt-4", Supports: registry.Supports{Completion: true}},
		registry.Mapping{ModelID: "gpt-4-turbo", Provider: "openai", ProviderModelID: "gpt-4-turbo", Supports: registry.Supports{Completion: true}},
	)
	abRepo := abtest.NewMemoryRepo()
	_ = abRepo.CreateExperiment(context.Background(), abtest.Experiment{
		ID: "exp-1", Active: true, TrafficAllocationPct: 100,
		ControlModelID: "gpt-4", TreatmentModelID: "gpt-4-turbo",
		StartDate: time.Now().UTC().Add(-time.Hour), CreatedAt: time.Now().UTC().Add(-time.Hour),
	})
	r := New(reg, abtest.New(abRepo))

	result := r.RouteCompletion(context.Background(), providers.Request{Model: "gpt-4", User: "user-1"})
	if !result.Success || result.EffectiveModelID != "gpt-4-turbo" {
		t.Fatalf("expected A/B override to gpt-4-turbo, got %+v", result)
	}
}

func TestRouter_GetFallbackModels_PrefersErrorSpecificOverride(t *testing.T) {
	reg := testRegistry(registry.Mapping{
		ModelID: "gpt-4", Provider: "openai", ProviderModelID: "gpt-4",
		Fallbacks: []string{"generic-fallback"},
	})
	r := New(reg, nil).WithErrorFallbacks("gpt-4", providers.ErrRateLimit, []string{"gpt-4-turbo", "gpt-3.5-turbo"})

	got := r.GetFallbackModels(context.Background(), "gpt-4", providers.ErrRateLimit)
	if len(got) != 2 || got[0] != "gpt-4-turbo" {
		t.Fatalf("expected error-specific fallback list, got %v", got)
	}
}

func TestRouter_GetFallbackModels_FallsBackToMappingList(t *testing.T) {
	reg := testRegistry(registry.Mapping{
		ModelID: "gpt-4", Provider: "openai", ProviderModelID: "gpt-4",
		Fallbacks: []string{"gpt-3.5-turbo"},
	})
	r := New(reg, nil)
	got := r.GetFallbackModels(context.Background(), "gpt-4", providers.ErrTimeout)
	if len(got) != 1 || got[0] != "gpt-3.5-turbo" {
		t.Fatalf("expected mapping fallback list, got %v", got)
	}
}

func TestRouter_GetFallbackModels_FallsBackToGenericList(t *testing.T) {
	reg := testRegistry(registry.Mapping{ModelID: "gpt-4", Provider: "openai", ProviderModelID: "gpt-4"})
	r := New(reg, nil).WithGenericFallbacks([]string{"fallback-a"})
	got := r.GetFallbackModels(context.Background(), "gpt-4", providers.ErrTimeout)
	if len(got) != 1 || got[0] != "fallback-a" {
		t.Fatalf("expected generic fallback list, got %v", got)
	}
}
