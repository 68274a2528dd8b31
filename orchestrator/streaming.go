package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vantagegw/llm-gateway/internal/logging"
	"github.com/vantagegw/llm-gateway/internal/metrics"
	"github.com/vantagegw/llm-gateway/internal/tokenizer"
	"github.com/vantagegw/llm-gateway/providers"
	"github.com/vantagegw/llm-gateway/registry"
	"github.com/vantagegw/llm-gateway/usage"
)

// CompleteStream runs the streaming state machine (C11). Fallback may
// engage only while opening the provider stream, before any chunk reaches
// the consumer; once the channel is handed back, the stream is committed
// and a mid-stream provider failure is surfaced as a partial error rather
// than silently retried. Chunk order is preserved end-to-end. Token usage
// is tracked once, on the terminal chunk.
func (o *Orchestrator) CompleteStream(ctx context.Context, req providers.Request) (<-chan providers.StreamChunk, error) {
	if req.Model == HealthCheckModel {
		out := make(chan providers.StreamChunk, 1)
		out <- providers.StreamChunk{Model: HealthCheckModel, Choices: []providers.StreamChoice{{Delta: providers.MessageDelta{Role: providers.RoleAssistant, Content: "pong"}, FinishReason: "stop"}}}
		close(out)
		return out, nil
	}

	log := logging.FromContext(ctx)
	originalModel := req.Model
	requestID := newRequestID()

	if o.Filter != nil {
		if r := o.Filter.FilterPrompt(messageContents(req.Messages)); !r.Allowed {
			metrics.FilterDenials.WithLabelValues(filterStage(r.Reason), "prompt").Inc()
			return nil, &providers.ContentFilteredError{Reason: r.Reason, Categories: r.Categories}
		}
	}

	result := o.Router.RouteCompletion(ctx, req)
	if !result.Success {
		return nil, result.Error
	}

	estimatedCost := o.estimatePreCallCost(ctx, result.Provider, result.EffectiveModelID, req)
	if !o.checkBudget(ctx, req.User, req.ProjectID, estimatedCost) {
		return nil, &providers.BudgetExceededError{UserID: req.User, ProjectID: req.ProjectID, Message: "estimated cost exceeds remaining budget"}
	}

	sp, err := o.resolveStreamProvider(result.Provider)
	if err != nil {
		return nil, err
	}
	callReq := req
	callReq.Model = result.ProviderModelID

	servingProvider := result.Provider
	src, openErr := sp.CompleteStream(ctx, callReq)
	if openErr != nil && providers.IsRetriable(openErr) {
		var mapping registry.Mapping
		src, mapping, openErr = o.Fallback.RunStream(ctx, result.EffectiveModelID, openErr, func(ctx context.Context, mapping registry.Mapping) (<-chan providers.StreamChunk, error) {
			fsp, ferr := o.resolveStreamProvider(mapping.Provider)
			if ferr != nil {
				return nil, ferr
			}
			fcReq := req
			fcReq.Model = mapping.ProviderModelID
			return fsp.CompleteStream(ctx, fcReq)
		})
		if openErr == nil {
			servingProvider = mapping.Provider
		}
	}
	if openErr != nil {
		var exhausted *providers.FallbackExhaustedError
		if errors.As(openErr, &exhausted) {
			metrics.FallbackAttempts.WithLabelValues(originalModel, "exhausted").Inc()
		}
		log.Error("stream open failed", "model", originalModel, "error", openErr.Error())
		return nil, openErr
	}

	out := make(chan providers.StreamChunk)
	go o.pumpStream(ctx, pumpArgs{
		src:             src,
		out:             out,
		req:             req,
		originalModel:   originalModel,
		servingProvider: servingProvider,
		requestID:       requestID,
		start:           time.Now(),
	})
	return out, nil
}

func (o *Orchestrator) resolveStreamProvider(name string) (providers.StreamProvider, error) {
	p, err := o.resolveProvider(name)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(providers.StreamProvider)
	if !ok {
		return nil, &providers.RoutingError{Message: "provider " + name + " does not support streaming"}
	}
	return sp, nil
}

type pumpArgs struct {
	src             <-chan providers.StreamChunk
	out             chan<- providers.StreamChunk
	req             providers.Request
	originalModel   string
	servingProvider string
	requestID       string
	start           time.Time
}

// pumpStream relays src to out in order, rewriting each chunk's Model and
// Provider to the client-facing identifiers, and tracks usage exactly once
// on the terminal chunk. It stops (without reconnecting) on the first
// provider error or consumer cancellation.
func (o *Orchestrator) pumpStream(ctx context.Context, a pumpArgs) {
	defer close(a.out)
	log := logging.FromContext(ctx)
	var completionText strings.Builder
	tracked := false

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-a.src:
			if !ok {
				return
			}
			chunk.Model = a.originalModel
			chunk.Provider = a.servingProvider

			if chunk.Error != nil {
				select {
				case a.out <- chunk:
				case <-ctx.Done():
				}
				log.Error("stream interrupted mid-delivery", "model", a.originalModel, "error", chunk.Error.Error())
				return
			}

			for _, c := range chunk.Choices {
				completionText.WriteString(c.Delta.Content)
			}

			if chunk.IsFinal() && !tracked {
				tracked = true
				promptTokens := tokenizer.CountPromptTokens(a.originalModel, a.req.Messages)
				completionTokens := tokenizer.CountTextTokens(a.originalModel, completionText.String())
				chunk.Usage = providers.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens}

				o.trackUsage(ctx, usage.Record{
					ID: a.requestID, RequestID: a.requestID, UserID: a.req.User, Provider: a.servingProvider,
					ModelID: a.originalModel, OperationType: usage.OperationCompletion,
					PromptTokens: promptTokens, CompletionTokens: completionTokens,
					ProjectID: a.req.ProjectID, Tags: a.req.Tags,
				})
				o.trackCost(ctx, a.req.User, a.req.ProjectID, a.servingProvider, a.originalModel, promptTokens, completionTokens)

				metrics.RequestDuration.WithLabelValues(a.servingProvider, a.originalModel).Observe(time.Since(a.start).Seconds())
				metrics.RequestsTotal.WithLabelValues(a.servingProvider, a.originalModel, "success").Inc()
				metrics.TokensInput.WithLabelValues(a.servingProvider, a.originalModel).Add(float64(promptTokens))
				metrics.TokensOutput.WithLabelValues(a.servingProvider, a.originalModel).Add(float64(completionTokens))
			}

			select {
			case a.out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}
}
