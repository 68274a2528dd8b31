package cost

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repo implementation for cost records and
// budgets, guarded by a single mutex.
type MemoryRepo struct {
	mu      sync.Mutex
	records []CostRecord
	budgets map[string]Budget
}

// NewMemoryRepo constructs an empty in-memory cost/budget store.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{budgets: make(map[string]Budget)}
}

func (m *MemoryRepo) CreateCostRecord(_ context.Context, r CostRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryRepo) GetCostRecords(_ context.Context, userID, projectID string, start, end time.Time) ([]CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CostRecord, 0)
	for _, r := range m.records {
		if userID != "" && r.UserID != userID {
			continue
		}
		if projectID != "" && r.ProjectID != projectID {
			continue
		}
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryRepo) GetCostSummary(_ context.Context, start, end time.Time) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{ByModel: map[string]float64{}, ByProvider: map[string]float64{}, ByUser: map[string]float64{}}
	for _, r := range m.records {
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		s.TotalUSD += r.AmountUSD
		s.ByUser[r.UserID] += r.AmountUSD
	}
	return s, nil
}

func (m *MemoryRepo) GetTotalCost(ctx context.Context, userID, projectID string, start, end time.Time) (float64, error) {
	records, err := m.GetCostRecords(ctx, userID, projectID, start, end)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, r := range records {
		total += r.AmountUSD
	}
	return total, nil
}

func (m *MemoryRepo) CreateBudget(_ context.Context, b Budget) error {
	if b.ID == "" {
		id, err := newBudgetID()
		if err != nil {
			return err
		}
		b.ID = id
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.budgets[b.ID]; exists {
		return fmt.Errorf("budget already exists: %s", b.ID)
	}
	m.budgets[b.ID] = b
	return nil
}

func (m *MemoryRepo) GetBudget(_ context.Context, id string) (Budget, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[id]
	return b, ok, nil
}

func (m *MemoryRepo) UpdateBudget(_ context.Context, b Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.budgets[b.ID]; !exists {
		return fmt.Errorf("budget not found: %s", b.ID)
	}
	b.UpdatedAt = time.Now().UTC()
	m.budgets[b.ID] = b
	return nil
}

func (m *MemoryRepo) DeleteBudget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.budgets[id]; !exists {
		return fmt.Errorf("budget not found: %s", id)
	}
	delete(m.budgets, id)
	return nil
}

func (m *MemoryRepo) GetBudgetsForUserAndProject(_ context.Context, userID, projectID string) ([]Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Budget, 0)
	for _, b := range m.budgets {
		if b.OwnerUserID != userID {
			continue
		}
		if b.ProjectID != "" && projectID != "" && b.ProjectID != projectID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func newBudgetID() (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("generating budget id: %w", err)
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", idBytes[0:4], idBytes[4:6], idBytes[6:8], idBytes[8:10], idBytes[10:16]), nil
}
