// Package usage implements the append-only token-usage ledger (C8): every
// completion, embedding, or fine-tuning call records one Record, queryable
// by user, API key, model, or provider, and summarizable over a time range.
package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// OperationType categorizes what kind of call a Record describes.
type OperationType string

// OperationType values.
const (
	OperationCompletion OperationType = "completion"
	OperationEmbedding  OperationType = "embedding"
	OperationFineTuning OperationType = "fine_tuning"
)

// Record is a single append-only usage ledger entry.
type Record struct {
	ID               string
	RequestID        string
	UserID           string
	APIKeyID         string
	Provider         string
	ModelID          string
	OperationType    OperationType
	Timestamp        time.Time
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
	ProjectID        string
	Tags             []string
}

// Summary aggregates token and cost totals over a set of records.
type Summary struct {
	RequestCount     int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// Repo is the usage storage port: append-only writes plus typed read queries.
type Repo interface {
	Append(ctx context.Context, r Record) error
	ByUser(ctx context.Context, userID string, start, end time.Time) ([]Record, error)
	ByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]Record, error)
	ByModel(ctx context.Context, modelID string, start, end time.Time) ([]Record, error)
	ByProvider(ctx context.Context, provider string, start, end time.Time) ([]Record, error)
	Summary(ctx context.Context, start, end time.Time) (Summary, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryRepo is a mutex-guarded, in-process Repo implementation safe for
// concurrent appends.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryRepo constructs an empty in-memory usage ledger.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

// Append adds r to the ledger, assigning a timestamp if unset.
func (m *MemoryRepo) Append(_ context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.TotalTokens = r.PromptTokens + r.CompletionTokens

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

func (m *MemoryRepo) filter(pred func(Record) bool, start, end time.Time) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if inRange(r.Timestamp, start, end) && pred(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *MemoryRepo) ByUser(_ context.Context, userID string, start, end time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.UserID == userID }, start, end), nil
}

func (m *MemoryRepo) ByAPIKey(_ context.Context, apiKeyID string, start, end time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.APIKeyID == apiKeyID }, start, end), nil
}

func (m *MemoryRepo) ByModel(_ context.Context, modelID string, start, end time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.ModelID == modelID }, start, end), nil
}

func (m *MemoryRepo) ByProvider(_ context.Context, provider string, start, end time.Time) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.Provider == provider }, start, end), nil
}

func (m *MemoryRepo) Summary(_ context.Context, start, end time.Time) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	for _, r := range m.records {
		if !inRange(r.Timestamp, start, end) {
			continue
		}
		s.RequestCount++
		s.PromptTokens += r.PromptTokens
		s.CompletionTokens += r.CompletionTokens
		s.TotalTokens += r.TotalTokens
		s.EstimatedCostUSD += r.EstimatedCostUSD
	}
	return s, nil
}

func (m *MemoryRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	purged := 0
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return purged, nil
}
