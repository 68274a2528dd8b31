package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vantagegw/llm-gateway/providers"
)

// VectorHit is one ranked result from a vector-store similarity search.
type VectorHit struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// VectorSearch is the vector database port consumed by retrieval-augmented
// generation. Namespace scopes the search (e.g. a tenant or collection);
// filter is an implementation-defined metadata predicate.
type VectorSearch interface {
	Search(ctx context.Context, namespace string, queryVector []float64, topK int, minScore float64, filter map[string]string) ([]VectorHit, error)
}

// SearchByText embeds query through the embedding orchestrator, then
// searches namespace with the resulting vector.
func (o *Orchestrator) SearchByText(ctx context.Context, vs VectorSearch, namespace, embedModel, query string, topK int, minScore float64, filter map[string]string) ([]VectorHit, error) {
	resp, err := o.Embed(ctx, providers.EmbeddingRequest{Model: embedModel, Input: query})
	if err != nil {
		return nil, fmt.Errorf("embed query for retrieval: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return vs.Search(ctx, namespace, resp.Data[0].Embedding, topK, minScore, filter)
}

// RAGRequest parameterizes a single PerformRAG call.
type RAGRequest struct {
	Namespace      string
	EmbedModel     string
	CompletionReq  providers.Request
	SystemPrompt   string
	Query          string
	TopK           int
	MinScore       float64
	Filter         map[string]string
}

// PerformRAG retrieves context via SearchByText, concatenates the hits'
// text, and completes CompletionReq with a synthesized system+user prompt:
//
//	System: <systemPrompt>
//	User: Context:
//	<joined contexts>
//
//	Question: <query>
//
// CompletionReq.Messages is replaced; its Model and other fields pass
// through unchanged to the completion orchestrator.
func (o *Orchestrator) PerformRAG(ctx context.Context, vs VectorSearch, rr RAGRequest) (*providers.Response, error) {
	hits, err := o.SearchByText(ctx, vs, rr.Namespace, rr.EmbedModel, rr.Query, rr.TopK, rr.MinScore, rr.Filter)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	joined := strings.Join(texts, "\n")

	req := rr.CompletionReq
	req.Messages = []providers.Message{
		{Role: providers.RoleSystem, Content: rr.SystemPrompt},
		{Role: providers.RoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", joined, rr.Query)},
	}

	return o.Complete(ctx, req)
}
