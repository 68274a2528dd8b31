// Package registry implements the model registry (C2): a process-wide,
// read-mostly mapping of logical model IDs to a concrete provider and
// provider-model-ID, with pricing and capability metadata. The registry
// optionally unions statically configured mappings with each provider's own
// Models() list (SupportsModel for single lookups), caching the union with a
// short TTL.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vantagegw/llm-gateway/providers"
)

// Supports describes the operation set a model mapping supports.
type Supports struct {
	Completion      bool
	Embedding       bool
	Streaming       bool
	FunctionCalling bool
	Vision          bool
}

// Mapping links a logical model ID to a concrete provider + provider-model.
// Unique by ModelID. Built at config load; immutable during a run except via
// Reload.
type Mapping struct {
	ModelID             string
	DisplayName         string
	Provider            string
	ProviderModelID     string
	ContextWindow       int
	InputPricePerToken  float64
	OutputPricePerToken float64
	Supports            Supports
	Fallbacks           []string
	Properties          map[string]string
}

// cacheSlot holds a TTL-bounded cached value, matching the "models:all" /
// "models:<id>" slot scheme described by the registry's discovery contract.
type cacheSlot struct {
	mappings  []Mapping
	expiresAt time.Time
}

const defaultTTL = 30 * time.Minute

// ProviderLookup resolves a provider by name for discovery.
type ProviderLookup func(name string) (providers.Provider, bool)

// Registry resolves logical model IDs to Mappings. Static mappings are
// consulted first; if discovery is enabled and a model is not statically
// configured, registered providers are consulted in registration order.
type Registry struct {
	mu       sync.RWMutex
	static   map[string]Mapping
	order    []string // provider registration order, for discovery precedence
	lookup   ProviderLookup
	discover bool
	ttl      time.Duration

	all   cacheSlot
	byID  map[string]cacheSlot
}

// New creates a Registry seeded with static mappings. lookup resolves a
// provider name to a live Provider for discovery; it may be nil if
// discoverEnabled is false.
func New(static []Mapping, providerOrder []string, lookup ProviderLookup, discoverEnabled bool, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	r := &Registry{
		static:   make(map[string]Mapping, len(static)),
		order:    providerOrder,
		lookup:   lookup,
		discover: discoverEnabled,
		ttl:      ttl,
		byID:     make(map[string]cacheSlot),
	}
	for _, m := range static {
		r.static[m.ModelID] = m
	}
	return r
}

// ErrModelNotFound is returned by Get when a model has no static mapping and
// discovery (if enabled) found no match either.
type ErrModelNotFound struct {
	ModelID string
}

func (e *ErrModelNotFound) Error() string { return fmt.Sprintf("model not found: %s", e.ModelID) }

// Get resolves a logical model ID to its Mapping. Cache contract: a per-ID
// TTL slot is consulted first; on miss, static mappings are checked, then
// (if enabled) provider discovery in registration order.
func (r *Registry) Get(ctx context.Context, modelID string) (Mapping, error) {
	r.mu.RLock()
	if slot, ok := r.byID[modelID]; ok && time.Now().Before(slot.expiresAt) && len(slot.mappings) == 1 {
		m := slot.mappings[0]
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	if m, ok := r.static[modelID]; ok {
		r.cacheByID(modelID, m)
		return m, nil
	}

	if r.discover && r.lookup != nil {
		for _, name := range r.order {
			p, ok := r.lookup(name)
			if !ok {
				continue
			}
			if !p.SupportsModel(modelID) {
				continue
			}
			m := mappingFromProvider(name, modelID, p)
			r.cacheByID(modelID, m)
			return m, nil
		}
	}

	return Mapping{}, &ErrModelNotFound{ModelID: modelID}
}

func (r *Registry) cacheByID(modelID string, m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[modelID] = cacheSlot{mappings: []Mapping{m}, expiresAt: time.Now().Add(r.ttl)}
}

// List returns the union of static mappings and (if enabled) all discovered
// provider models, honoring the shared "models:all" TTL slot.
func (r *Registry) List(ctx context.Context) []Mapping {
	r.mu.RLock()
	if time.Now().Before(r.all.expiresAt) && r.all.mappings != nil {
		out := r.all.mappings
		r.mu.RUnlock()
		return out
	}
	r.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]Mapping, 0, len(r.static))
	for _, m := range r.static {
		out = append(out, m)
		seen[m.ModelID] = true
	}

	if r.discover && r.lookup != nil {
		for _, name := range r.order {
			p, ok := r.lookup(name)
			if !ok {
				continue
			}
			for _, mi := range p.Models() {
				if seen[mi.ID] {
					continue
				}
				out = append(out, mappingFromProvider(name, mi.ID, p))
				seen[mi.ID] = true
			}
		}
	}

	r.mu.Lock()
	r.all = cacheSlot{mappings: out, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return out
}

// Reload replaces the static mapping set and invalidates all cache slots.
// Use this after an external configuration reload.
func (r *Registry) Reload(static []Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = make(map[string]Mapping, len(static))
	for _, m := range static {
		r.static[m.ModelID] = m
	}
	r.all = cacheSlot{}
	r.byID = make(map[string]cacheSlot)
}

func mappingFromProvider(providerName, modelID string, p providers.Provider) Mapping {
	_, streaming := p.(providers.StreamProvider)
	_, embedding := p.(providers.EmbeddingProvider)
	return Mapping{
		ModelID:         modelID,
		DisplayName:     modelID,
		Provider:        providerName,
		ProviderModelID: modelID,
		Supports: Supports{
			Completion: true,
			Embedding:  embedding,
			Streaming:  streaming,
		},
		Properties: map[string]string{"source": "discovery"},
	}
}
