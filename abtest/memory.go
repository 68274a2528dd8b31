package abtest

import (
	"context"
	"fmt"
	"sync"
)

type assignmentKey struct {
	experimentID string
	userID       string
}

// MemoryRepo is an in-process Repo implementation. Assignment is a
// sync.Map-backed atomic "load-or-store": LoadOrStore is the compare-and-set
// primitive the spec's sticky-assignment design note calls for.
type MemoryRepo struct {
	assignments sync.Map // assignmentKey -> Assignment

	mu          sync.Mutex
	experiments map[string]Experiment
	results     map[string][]Result
}

// NewMemoryRepo constructs an empty in-memory Repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		experiments: make(map[string]Experiment),
		results:     make(map[string][]Result),
	}
}

func (m *MemoryRepo) GetActiveExperimentsForModel(_ context.Context, controlModelID string) ([]Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Experiment
	for _, e := range m.experiments {
		if e.ControlModelID == controlModelID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepo) GetAssignment(_ context.Context, experimentID, userID string) (Assignment, bool, error) {
	v, ok := m.assignments.Load(assignmentKey{experimentID, userID})
	if !ok {
		return Assignment{}, false, nil
	}
	return v.(Assignment), true, nil
}

func (m *MemoryRepo) SetAssignment(_ context.Context, a Assignment) error {
	// LoadOrStore makes the (experimentID,userID) write idempotent under
	// concurrent first-assignment races: whichever goroutine wins is the
	// assignment every subsequent reader sees.
	m.assignments.LoadOrStore(assignmentKey{a.ExperimentID, a.UserID}, a)
	return nil
}

func (m *MemoryRepo) CreateExperiment(_ context.Context, e Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experiments[e.ID]; exists {
		return fmt.Errorf("experiment already exists: %s", e.ID)
	}
	m.experiments[e.ID] = e
	return nil
}

func (m *MemoryRepo) GetExperiment(_ context.Context, id string) (Experiment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.experiments[id]
	return e, ok, nil
}

func (m *MemoryRepo) ListExperiments(_ context.Context) ([]Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Experiment, 0, len(m.experiments))
	for _, e := range m.experiments {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryRepo) UpdateExperiment(_ context.Context, e Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experiments[e.ID]; !exists {
		return fmt.Errorf("experiment not found: %s", e.ID)
	}
	m.experiments[e.ID] = e
	return nil
}

func (m *MemoryRepo) DeleteExperiment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experiments[id]; !exists {
		return fmt.Errorf("experiment not found: %s", id)
	}
	delete(m.experiments, id)
	return nil
}

func (m *MemoryRepo) RecordResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.ExperimentID] = append(m.results[r.ExperimentID], r)
	return nil
}

func (m *MemoryRepo) GetResults(_ context.Context, experimentID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results[experimentID]...), nil
}
