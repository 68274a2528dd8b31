// Package abtest implements the A/B experiment engine (C5): sticky,
// per-user variant assignment with segment filtering, returning the
// effective model ID a request should be routed to.
package abtest

import (
	"context"
	"math/rand"
	"sort"
	"time"
)

// Experiment describes an A/B test over two model IDs.
type Experiment struct {
	ID                   string
	Name                 string
	Active               bool
	StartDate            time.Time
	EndDate              *time.Time
	TrafficAllocationPct float64
	ControlModelID       string
	TreatmentModelID     string
	UserSegments         []string // non-empty restricts eligibility to these userIDs
	Metrics              []string
	CreatedBy            string
	CreatedAt            time.Time
}

// IsLive reports whether the experiment is currently eligible for
// assignment: active and (no end date or end date in the future).
func (e Experiment) IsLive(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.EndDate != nil && !e.EndDate.After(now) {
		return false
	}
	return true
}

// Variant is the sticky assignment outcome for a (experiment, user) pair.
type Variant string

// Variant constants.
const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// Assignment is a persisted sticky (experimentID, userID) -> variant mapping.
type Assignment struct {
	ExperimentID string
	UserID       string
	Variant      Variant
	AssignedAt   time.Time
}

// Result is a single recorded experiment observation, used by Stats.
type Result struct {
	ExperimentID string
	UserID       string
	RequestID    string
	Variant      Variant
	ModelID      string
	Metrics      map[string]float64
	Timestamp    time.Time
}

// Repo is the A/B storage port: experiment CRUD, sticky assignment
// read/write, and result recording.
type Repo interface {
	GetActiveExperimentsForModel(ctx context.Context, controlModelID string) ([]Experiment, error)
	GetAssignment(ctx context.Context, experimentID, userID string) (Assignment, bool, error)
	SetAssignment(ctx context.Context, a Assignment) error
	CreateExperiment(ctx context.Context, e Experiment) error
	GetExperiment(ctx context.Context, id string) (Experiment, bool, error)
	ListExperiments(ctx context.Context) ([]Experiment, error)
	UpdateExperiment(ctx context.Context, e Experiment) error
	DeleteExperiment(ctx context.Context, id string) error
	RecordResult(ctx context.Context, r Result) error
	GetResults(ctx context.Context, experimentID string) ([]Result, error)
}

// Engine resolves the effective model a request should use for a given user,
// applying sticky per-user variant assignment across active experiments.
type Engine struct {
	repo Repo
	rng  *rand.Rand
}

// New constructs an Engine backed by repo. A process-local (non-crypto) RNG
// seeded from the current time drives the traffic-split draw.
func New(repo Repo) *Engine {
	return &Engine{repo: repo, rng: rand.New(rand.NewSource(time.Now().UnixNano()))} //nolint:gosec
}

// GetModelForUser lists active experiments whose control model equals
// requestedModelID, picks the first by (creation time, then ID) tie-break,
// assigns sticky (reusing a persisted assignment, else drawing and
// persisting one), and returns the corresponding model ID.
//
// Any repo failure degrades to the requested model unchanged (fail-open).
func (e *Engine) GetModelForUser(ctx context.Context, requestedModelID, userID string) string {
	if userID == "" {
		userID = "anonymous"
	}

	candidates, err := e.repo.GetActiveExperimentsForModel(ctx, requestedModelID)
	if err != nil || len(candidates) == 0 {
		return requestedModelID
	}

	live := make([]Experiment, 0, len(candidates))
	now := time.Now().UTC()
	for _, exp := range candidates {
		if exp.IsLive(now) {
			live = append(live, exp)
		}
	}
	if len(live) == 0 {
		return requestedModelID
	}

	sort.Slice(live, func(i, j int) bool {
		if !live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		}
		return live[i].ID < live[j].ID
	})
	exp := live[0]

	variant, err := e.assign(ctx, exp, userID)
	if err != nil {
		return requestedModelID
	}

	if variant == VariantTreatment {
		return exp.TreatmentModelID
	}
	return exp.ControlModelID
}

func (e *Engine) assign(ctx context.Context, exp Experiment, userID string) (Variant, error) {
	if existing, ok, err := e.repo.GetAssignment(ctx, exp.ID, userID); err != nil {
		return "", err
	} else if ok {
		return existing.Variant, nil
	}

	variant := e.draw(exp, userID)
	a := Assignment{ExperimentID: exp.ID, UserID: userID, Variant: variant, AssignedAt: time.Now().UTC()}
	if err := e.repo.SetAssignment(ctx, a); err != nil {
		return "", err
	}
	return variant, nil
}

func (e *Engine) draw(exp Experiment, userID string) Variant {
	if len(exp.UserSegments) > 0 && !containsUser(exp.UserSegments, userID) {
		return VariantControl
	}
	r := e.rng.Float64()*100 + 1 // uniform in [1,101), clamped below to [1,100]
	if r > 100 {
		r = 100
	}
	if r <= exp.TrafficAllocationPct {
		return VariantTreatment
	}
	return VariantControl
}

func containsUser(segments []string, userID string) bool {
	for _, s := range segments {
		if s == userID {
			return true
		}
	}
	return false
}

// RecordResult stores a single experiment observation for later Stats
// computation.
func (e *Engine) RecordResult(ctx context.Context, r Result) error {
	return e.repo.RecordResult(ctx, r)
}
