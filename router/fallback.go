package router

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vantagegw/llm-gateway/internal/circuitbreaker"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
)

// CallFunc invokes the provider named by mapping and returns its response.
type CallFunc func(ctx context.Context, mapping registry.Mapping) (*providers.Response, error)

// FallbackController retries a failed completion against an ordered list of
// fallback models, bounded by maxAttempts with exponential backoff between
// attempts. Each (provider, model) pair gets its own circuit breaker, reused
// across calls.
type FallbackController struct {
	router *Router

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewFallbackController constructs a FallbackController with the defaults
// from the fallback algorithm: 3 max attempts, 1s base backoff, no cap.
func NewFallbackController(router *Router) *FallbackController {
	return &FallbackController{
		router:      router,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
		maxAttempts: 3,
		baseBackoff: time.Second,
	}
}

// WithMaxAttempts overrides the default 3 max attempts.
func (fc *FallbackController) WithMaxAttempts(n int) *FallbackController {
	if n > 0 {
		fc.maxAttempts = n
	}
	return fc
}

// WithBackoff overrides the base backoff and, optionally, a ceiling (0 = uncapped).
func (fc *FallbackController) WithBackoff(base, ceiling time.Duration) *FallbackController {
	if base > 0 {
		fc.baseBackoff = base
	}
	fc.maxBackoff = ceiling
	return fc
}

func (fc *FallbackController) breakerFor(provider, model string) *circuitbreaker.CircuitBreaker {
	key := provider + "/" + model
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if cb, ok := fc.breakers[key]; ok {
		return cb
	}
	cb := circuitbreaker.New(5, 1, 30*time.Second)
	fc.breakers[key] = cb
	return cb
}

func (fc *FallbackController) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * fc.baseBackoff
	if fc.maxBackoff > 0 && d > fc.maxBackoff {
		d = fc.maxBackoff
	}
	return d
}

func errorCodeOf(err error) providers.ErrorCode {
	var pe *providers.ProviderError
	if asProviderError(err, &pe) {
		return pe.Code
	}
	return providers.ErrUnknown
}

func asProviderError(err error, target **providers.ProviderError) bool {
	if pe, ok := err.(*providers.ProviderError); ok {
		*target = pe
		return true
	}
	return false
}

// Run retries originalModelID's completion against ordered fallback models
// after firstErr (the error the initial provider call returned). Tie-break:
// if the next configured fallback equals the previously failed one, it is
// skipped in favor of the following entry when one exists. On success, the
// returned response's Model field is rewritten to originalModelID so the
// caller sees the model it asked for; the actual serving provider remains in
// response.Provider.
func (fc *FallbackController) Run(ctx context.Context, originalModelID string, firstErr error, call CallFunc) (*providers.Response, error) {
	code := errorCodeOf(firstErr)
	lastErr := firstErr
	lastFallbackID := ""

	for attempt := 1; attempt <= fc.maxAttempts; attempt++ {
		fallbacks := fc.router.GetFallbackModels(ctx, originalModelID, code)
		if len(fallbacks) == 0 {
			return nil, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: attempt - 1, LastErr: lastErr}
		}

		idx := attempt - 1
		if idx >= len(fallbacks) {
			idx = len(fallbacks) - 1
		}
		pick := fallbacks[idx]
		if pick == lastFallbackID && idx+1 < len(fallbacks) {
			idx++
			pick = fallbacks[idx]
		}

		mapping, err := fc.router.registry.Get(ctx, pick)
		if err != nil {
			lastErr = fmt.Errorf("resolve fallback model %s: %w", pick, err)
			lastFallbackID = pick
			continue
		}

		cb := fc.breakerFor(mapping.Provider, mapping.ProviderModelID)
		if !cb.Allow() {
			lastErr = fmt.Errorf("circuit open for %s/%s", mapping.Provider, mapping.ProviderModelID)
			lastFallbackID = pick
			continue
		}

		backoff := fc.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		resp, callErr := call(ctx, mapping)
		if callErr == nil {
			cb.RecordSuccess()
			if resp != nil {
				resp.Model = originalModelID
			}
			return resp, nil
		}

		cb.RecordFailure()
		lastErr = callErr
		lastFallbackID = pick
		code = errorCodeOf(callErr)
	}

	return nil, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: fc.maxAttempts, LastErr: lastErr}
}

// StreamOpenFunc opens a streaming completion against the provider named by
// mapping. Unlike CallFunc, success is determined by the stream opening
// without error, not by its eventual content.
type StreamOpenFunc func(ctx context.Context, mapping registry.Mapping) (<-chan providers.StreamChunk, error)

// RunStream retries originalModelID's stream-open step the same way Run
// retries a completion: ordered fallback models, repeated-pick tie-break,
// exponential backoff, and circuit breakers shared with Run. It returns the
// opened channel and the mapping that served it, so the caller can label
// chunks with the actual provider. Once a channel is returned, the caller
// owns consuming it; RunStream never engages fallback mid-stream.
func (fc *FallbackController) RunStream(ctx context.Context, originalModelID string, firstErr error, open StreamOpenFunc) (<-chan providers.StreamChunk, registry.Mapping, error) {
	code := errorCodeOf(firstErr)
	lastErr := firstErr
	lastFallbackID := ""

	for attempt := 1; attempt <= fc.maxAttempts; attempt++ {
		fallbacks := fc.router.GetFallbackModels(ctx, originalModelID, code)
		if len(fallbacks) == 0 {
			return nil, registry.Mapping{}, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: attempt - 1, LastErr: lastErr}
		}

		idx := attempt - 1
		if idx >= len(fallbacks) {
			idx = len(fallbacks) - 1
		}
		pick := fallbacks[idx]
		if pick == lastFallbackID && idx+1 < len(fallbacks) {
			idx++
			pick = fallbacks[idx]
		}

		mapping, err := fc.router.registry.Get(ctx, pick)
		if err != nil {
			lastErr = fmt.Errorf("resolve fallback model %s: %w", pick, err)
			lastFallbackID = pick
			continue
		}

		cb := fc.breakerFor(mapping.Provider, mapping.ProviderModelID)
		if !cb.Allow() {
			lastErr = fmt.Errorf("circuit open for %s/%s", mapping.Provider, mapping.ProviderModelID)
			lastFallbackID = pick
			continue
		}

		backoff := fc.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, registry.Mapping{}, ctx.Err()
		case <-time.After(backoff):
		}

		ch, openErr := open(ctx, mapping)
		if openErr == nil {
			cb.RecordSuccess()
			return ch, mapping, nil
		}

		cb.RecordFailure()
		lastErr = openErr
		lastFallbackID = pick
		code = errorCodeOf(openErr)
	}

	return nil, registry.Mapping{}, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: fc.maxAttempts, LastErr: lastErr}
}

// EmbedCallFunc invokes an embedding provider named by mapping.
type EmbedCallFunc func(ctx context.Context, mapping registry.Mapping) (*providers.EmbeddingResponse, error)

// RunEmbedding is Run specialized to the embedding response type, sharing
// the same fallback ordering, tie-break, backoff, and circuit breakers.
func (fc *FallbackController) RunEmbedding(ctx context.Context, originalModelID string, firstErr error, call EmbedCallFunc) (*providers.EmbeddingResponse, error) {
	code := errorCodeOf(firstErr)
	lastErr := firstErr
	lastFallbackID := ""

	for attempt := 1; attempt <= fc.maxAttempts; attempt++ {
		fallbacks := fc.router.GetFallbackModels(ctx, originalModelID, code)
		if len(fallbacks) == 0 {
			return nil, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: attempt - 1, LastErr: lastErr}
		}

		idx := attempt - 1
		if idx >= len(fallbacks) {
			idx = len(fallbacks) - 1
		}
		pick := fallbacks[idx]
		if pick == lastFallbackID && idx+1 < len(fallbacks) {
			idx++
			pick = fallbacks[idx]
		}

		mapping, err := fc.router.registry.Get(ctx, pick)
		if err != nil {
			lastErr = fmt.Errorf("resolve fallback model %s: %w", pick, err)
			lastFallbackID = pick
			continue
		}

		cb := fc.breakerFor(mapping.Provider, mapping.ProviderModelID)
		if !cb.Allow() {
			lastErr = fmt.Errorf("circuit open for %s/%s", mapping.Provider, mapping.ProviderModelID)
			lastFallbackID = pick
			continue
		}

		backoff := fc.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		resp, callErr := call(ctx, mapping)
		if callErr == nil {
			cb.RecordSuccess()
			if resp != nil {
				resp.Model = originalModelID
			}
			return resp, nil
		}

		cb.RecordFailure()
		lastErr = callErr
		lastFallbackID = pick
		code = errorCodeOf(callErr)
	}

	return nil, &providers.FallbackExhaustedError{OriginalModelID: originalModelID, Attempts: fc.maxAttempts, LastErr: lastErr}
}
