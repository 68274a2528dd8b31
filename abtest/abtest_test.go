package abtest

import (
	"context"
	"testing"
	"time"
)

func newExperiment(id string, allocationPct float64, active bool) Experiment {
	return Experiment{
		ID:                   id,
		Name:                 "test-" + id,
		Active:               active,
		StartDate:            time.Now().UTC().Add(-time.Hour),
		TrafficAllocationPct: allocationPct,
		ControlModelID:       "gpt-4",
		TreatmentModelID:     "gpt-4-turbo",
		Metrics:              []string{"latency_ms"},
		CreatedBy:            "tester",
		CreatedAt:            time.Now().UTC().Add(-time.Hour),
	}
}

func TestEngine_GetModelForUser_NoExperiments(t *testing.T) {
	e := New(NewMemoryRepo())
	got := e.GetModelForUser(context.Background(), "gpt-4", "user-1")
	if got != "gpt-4" {
		t.Fatalf("expected fail-open to requested model, got %q", got)
	}
}

func TestEngine_GetModelForUser_FullAllocationAlwaysTreatment(t *testing.T) {
	repo := NewMemoryRepo()
	exp := newExperiment("exp-1", 100, true)
	if err := repo.CreateExperiment(context.Background(), exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	e := New(repo)
	got := e.GetModelForUser(context.Background(), "gpt-4", "user-1")
	if got != "gpt-4-turbo" {
		t.Fatalf("expected full allocation to pick treatment, got %q", got)
	}
}

func TestEngine_GetModelForUser_StickyAfterAllocationChange(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	exp := newExperiment("exp-1", 100, true)
	if err := repo.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	e := New(repo)

	first := e.GetModelForUser(ctx, "gpt-4", "user-1")
	if first != "gpt-4-turbo" {
		t.Fatalf("expected initial treatment assignment, got %q", first)
	}

	exp.TrafficAllocationPct = 0
	if err := repo.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("update experiment: %v", err)
	}

	second := e.GetModelForUser(ctx, "gpt-4", "user-1")
	if second != first {
		t.Fatalf("expected sticky assignment %q to persist after allocation change, got %q", first, second)
	}
}

func TestEngine_GetModelForUser_SegmentExcludesNonMembers(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	exp := newExperiment("exp-1", 100, true)
	exp.UserSegments = []string{"user-in-segment"}
	if err := repo.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	e := New(repo)

	got := e.GetModelForUser(ctx, "gpt-4", "user-outside-segment")
	if got != "gpt-4" {
		t.Fatalf("expected segment-excluded user to stay on control, got %q", got)
	}

	got = e.GetModelForUser(ctx, "gpt-4", "user-in-segment")
	if got != "gpt-4-turbo" {
		t.Fatalf("expected segment member to receive treatment, got %q", got)
	}
}

func TestEngine_GetModelForUser_InactiveExperimentIgnored(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	exp := newExperiment("exp-1", 100, false)
	if err := repo.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	e := New(repo)

	got := e.GetModelForUser(ctx, "gpt-4", "user-1")
	if got != "gpt-4" {
		t.Fatalf("expected inactive experiment to be ignored, got %q", got)
	}
}

func TestEngine_GetModelForUser_ExpiredExperimentIgnored(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	exp := newExperiment("exp-1", 100, true)
	past := time.Now().UTC().Add(-time.Minute)
	exp.EndDate = &past
	if err := repo.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	e := New(repo)

	got := e.GetModelForUser(ctx, "gpt-4", "user-1")
	if got != "gpt-4" {
		t.Fatalf("expected expired experiment to be ignored, got %q", got)
	}
}

func TestEngine_GetModelForUser_TieBreakByCreatedAtThenID(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	older := newExperiment("exp-b", 0, true)
	older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	older.TreatmentModelID = "from-older"
	newer := newExperiment("exp-a", 0, true)
	newer.CreatedAt = time.Now().UTC().Add(-1 * time.Hour)
	newer.TreatmentModelID = "from-newer"

	if err := repo.CreateExperiment(ctx, newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}
	if err := repo.CreateExperiment(ctx, older); err != nil {
		t.Fatalf("create older: %v", err)
	}

	e := New(repo)
	// 0% allocation means control is always selected, but we confirm the
	// correct experiment (the older one) was the one assigned against by
	// checking the sticky record it created.
	_ = e.GetModelForUser(ctx, "gpt-4", "user-1")
	a, ok, err := repo.GetAssignment(ctx, "exp-b", "user-1")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if !ok {
		t.Fatalf("expected assignment recorded against the older experiment (exp-b)")
	}
	if a.Variant != VariantControl {
		t.Fatalf("expected control variant at 0%% allocation, got %q", a.Variant)
	}
}

func TestEngine_RecordResult(t *testing.T) {
	repo := NewMemoryRepo()
	e := New(repo)
	ctx := context.Background()
	if err := e.RecordResult(ctx, Result{ExperimentID: "exp-1", UserID: "user-1", Variant: VariantTreatment, Metrics: map[string]float64{"latency_ms": 120}}); err != nil {
		t.Fatalf("record result: %v", err)
	}
	results, err := repo.GetResults(ctx, "exp-1")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
