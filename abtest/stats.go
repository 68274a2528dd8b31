package abtest

import (
	"context"
	"math"
)

// MetricStats summarizes one metric's observed values for a single variant.
type MetricStats struct {
	Mean  float64
	N     int
	Stdev float64
}

// MetricComparison compares control vs. treatment for a single metric.
type MetricComparison struct {
	Metric          string
	Control         MetricStats
	Treatment       MetricStats
	PctDifference   float64 // (treatment.Mean - control.Mean) / control.Mean * 100
	TStatistic      float64
	PValue          float64
	// Illustrative is always true: this p-value is a heuristic
	// approximation, not a valid statistical test. Callers must not branch
	// on it to make automated decisions.
	Illustrative bool
}

// Stats computes per-metric control/treatment comparisons for an experiment
// from its recorded Results. The p-value is heuristic
// (p = 1 / (1 + exp(0.7*|t|))) and documentation-only.
func Stats(ctx context.Context, repo Repo, experimentID string) ([]MetricComparison, error) {
	exp, ok, err := repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrExperimentNotFound{ID: experimentID}
	}

	results, err := repo.GetResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	out := make([]MetricComparison, 0, len(exp.Metrics))
	for _, metric := range exp.Metrics {
		var control, treatment []float64
		for _, r := range results {
			v, ok := r.Metrics[metric]
			if !ok {
				continue
			}
			if r.Variant == VariantTreatment {
				treatment = append(treatment, v)
			} else {
				control = append(control, v)
			}
		}
		cStats := summarize(control)
		tStats := summarize(treatment)
		t := twoSampleT(cStats, tStats)
		out = append(out, MetricComparison{
			Metric:        metric,
			Control:       cStats,
			Treatment:     tStats,
			PctDifference: pctDifference(cStats.Mean, tStats.Mean),
			TStatistic:    t,
			PValue:        heuristicPValue(t),
			Illustrative:  true,
		})
	}
	return out, nil
}

func summarize(values []float64) MetricStats {
	n := len(values)
	if n == 0 {
		return MetricStats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	stdev := 0.0
	if n > 1 {
		stdev = math.Sqrt(sqDiff / float64(n-1))
	}
	return MetricStats{Mean: mean, N: n, Stdev: stdev}
}

func pctDifference(control, treatment float64) float64 {
	if control == 0 {
		return 0
	}
	return (treatment - control) / control * 100
}

// twoSampleT computes Welch's t-statistic for two independent samples.
func twoSampleT(a, b MetricStats) float64 {
	if a.N == 0 || b.N == 0 {
		return 0
	}
	seA := (a.Stdev * a.Stdev) / float64(a.N)
	seB := (b.Stdev * b.Stdev) / float64(b.N)
	denom := math.Sqrt(seA + seB)
	if denom == 0 {
		return 0
	}
	return (b.Mean - a.Mean) / denom
}

// heuristicPValue is an illustrative-only approximation of a two-sided
// p-value: p = 1 / (1 + exp(0.7*|t|)).
func heuristicPValue(t float64) float64 {
	return 1 / (1 + math.Exp(0.7*math.Abs(t)))
}

// ErrExperimentNotFound signals Stats was asked about an unknown experiment.
type ErrExperimentNotFound struct {
	ID string
}

func (e *ErrExperimentNotFound) Error() string { return "experiment not found: " + e.ID }
