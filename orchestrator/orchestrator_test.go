package orchestrator

import (
	"context"
	"time"

	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
	"github.com/vantagegw/llm-gateway/router"
)

// stubProvider is a test double implementing Provider, StreamProvider, and
// EmbeddingProvider so a single type can back most orchestrator tests.
type stubProvider struct {
	name string

	resp    *providers.Response
	err     error
	calls   int
	onCall  func(req providers.Request)

	streamChunks []providers.StreamChunk
	streamErr    error

	embedResp *providers.EmbeddingResponse
	embedErr  error
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) SupportedModels() []string      { return nil }
func (s *stubProvider) SupportsModel(string) bool      { return true }
func (s *stubProvider) Models() []providers.ModelInfo  { return nil }

func (s *stubProvider) Complete(_ context.Context, req providers.Request) (*providers.Response, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(req)
	}
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.resp
	return &cp, nil
}

func (s *stubProvider) CompleteStream(_ context.Context, _ providers.Request) (<-chan providers.StreamChunk, error) {
	s.calls++
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	out := make(chan providers.StreamChunk, len(s.streamChunks))
	for _, c := range s.streamChunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (s *stubProvider) Embed(_ context.Context, _ providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	s.calls++
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	cp := *s.embedResp
	return &cp, nil
}

func testRegistry(mappings ...registry.Mapping) *registry.Registry {
	return registry.New(mappings, nil, nil, false, time.Minute)
}

func newTestOrchestrator(reg *registry.Registry, lookup ProviderLookup) *Orchestrator {
	r := router.New(reg, nil)
	return New(r, lookup)
}

func lookupOf(provs ...*stubProvider) ProviderLookup {
	return func(name string) (providers.Provider, bool) {
		for _, p := range provs {
			if p.name == name {
				return p, true
			}
		}
		return nil, false
	}
}
