package cost

import (
	"context"
	"fmt"
	"time"
)

// ResetPeriod determines how a Budget's enforcement window renews.
type ResetPeriod string

// ResetPeriod values.
const (
	ResetNever     ResetPeriod = "never"
	ResetDaily     ResetPeriod = "daily"
	ResetWeekly    ResetPeriod = "weekly"
	ResetMonthly   ResetPeriod = "monthly"
	ResetQuarterly ResetPeriod = "quarterly"
	ResetYearly    ResetPeriod = "yearly"
)

// Budget caps spend for a user, optionally scoped to a project.
type Budget struct {
	ID                string
	OwnerUserID       string
	ProjectID         string
	AmountUSD         float64
	StartDate         time.Time
	EndDate           *time.Time
	ResetPeriod       ResetPeriod
	AlertThresholdPct float64
	Enforce           bool
	Tags              []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CostRecord is a single attributed spend event used for budget summation.
// It mirrors the fields of usage.Record the cost engine cares about.
type CostRecord struct {
	UserID    string
	ProjectID string
	AmountUSD float64
	Timestamp time.Time
}

// UsageReport summarizes a budget's consumption for its current period.
type UsageReport struct {
	Amount                  float64
	Used                    float64
	Remaining               float64
	UsagePct                float64
	NextResetDate           *time.Time
	IsBudgetExceeded        bool
	IsAlertThresholdReached bool
}

// Repo is the cost/budget storage port.
type Repo interface {
	CreateCostRecord(ctx context.Context, r CostRecord) error
	GetCostRecords(ctx context.Context, userID, projectID string, start, end time.Time) ([]CostRecord, error)
	GetCostSummary(ctx context.Context, start, end time.Time) (Summary, error)
	GetTotalCost(ctx context.Context, userID, projectID string, start, end time.Time) (float64, error)

	CreateBudget(ctx context.Context, b Budget) error
	GetBudget(ctx context.Context, id string) (Budget, bool, error)
	UpdateBudget(ctx context.Context, b Budget) error
	DeleteBudget(ctx context.Context, id string) error
	GetBudgetsForUserAndProject(ctx context.Context, userID, projectID string) ([]Budget, error)
}

// Summary aggregates cost totals over a time range.
type Summary struct {
	TotalUSD   float64
	ByModel    map[string]float64
	ByProvider map[string]float64
	ByUser     map[string]float64
}

// PeriodWindow computes the (start, end) enforcement window for a budget at
// "now", per its ResetPeriod. If budget.StartDate is later than the
// computed period start, StartDate wins.
func PeriodWindow(b Budget, now time.Time) (time.Time, *time.Time) {
	now = now.UTC()
	var periodStart time.Time

	switch b.ResetPeriod {
	case ResetDaily:
		periodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case ResetWeekly:
		periodStart = mondayOfWeekUTC(now)
	case ResetMonthly:
		periodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case ResetQuarterly:
		q := (int(now.Month()) - 1) / 3
		firstMonthOfQuarter := time.Month(q*3 + 1)
		periodStart = time.Date(now.Year(), firstMonthOfQuarter, 1, 0, 0, 0, 0, time.UTC)
	case ResetYearly:
		periodStart = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case ResetNever:
		fallthrough
	default:
		periodStart = b.StartDate.UTC()
	}

	if b.StartDate.After(periodStart) {
		periodStart = b.StartDate.UTC()
	}
	return periodStart, b.EndDate
}

// mondayOfWeekUTC returns midnight UTC of the Monday on or before t. Monday
// is hardcoded as the week anchor regardless of locale.
func mondayOfWeekUTC(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return day.AddDate(0, 0, -offset)
}

// NextResetDate computes the next period boundary after now, or nil when
// the budget's EndDate has already passed.
func NextResetDate(b Budget, now time.Time) *time.Time {
	now = now.UTC()
	if b.EndDate != nil && !b.EndDate.After(now) {
		return nil
	}

	var next time.Time
	switch b.ResetPeriod {
	case ResetDaily:
		next = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case ResetWeekly:
		next = mondayOfWeekUTC(now).AddDate(0, 0, 7)
	case ResetMonthly:
		next = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	case ResetQuarterly:
		q := (int(now.Month()) - 1) / 3
		firstMonthOfQuarter := time.Month(q*3 + 1)
		next = time.Date(now.Year(), firstMonthOfQuarter, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	case ResetYearly:
		next = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(1, 0, 0)
	default:
		return nil
	}
	if b.EndDate != nil && next.After(*b.EndDate) {
		return nil
	}
	return &next
}

// IsWithinBudget reports whether adding estimatedCost to the user/project's
// current-period spend stays within every enforced budget matching
// (userID, projectID). Errors during lookup fail open (allow), a deliberate
// availability bias; callers should log the error separately.
func IsWithinBudget(ctx context.Context, repo Repo, userID, projectID string, estimatedCost float64) (bool, error) {
	budgets, err := repo.GetBudgetsForUserAndProject(ctx, userID, projectID)
	if err != nil {
		return true, fmt.Errorf("lookup budgets for %s/%s: %w", userID, projectID, err)
	}

	now := time.Now().UTC()
	for _, b := range budgets {
		if !b.Enforce {
			continue
		}
		start, end := PeriodWindow(b, now)
		var windowEnd time.Time
		if end != nil {
			windowEnd = *end
		}
		spent, err := repo.GetTotalCost(ctx, userID, projectID, start, windowEnd)
		if err != nil {
			return true, fmt.Errorf("sum spend for budget %s: %w", b.ID, err)
		}
		if spent+estimatedCost > b.AmountUSD {
			return false, nil
		}
	}
	return true, nil
}

// Report computes a UsageReport for a single budget at "now".
func Report(ctx context.Context, repo Repo, b Budget) (UsageReport, error) {
	now := time.Now().UTC()
	start, end := PeriodWindow(b, now)
	var windowEnd time.Time
	if end != nil {
		windowEnd = *end
	}
	used, err := repo.GetTotalCost(ctx, b.OwnerUserID, b.ProjectID, start, windowEnd)
	if err != nil {
		return UsageReport{}, fmt.Errorf("sum spend for budget %s: %w", b.ID, err)
	}

	usagePct := 0.0
	if b.AmountUSD > 0 {
		usagePct = used / b.AmountUSD * 100
	}

	return UsageReport{
		Amount:                  b.AmountUSD,
		Used:                    used,
		Remaining:               b.AmountUSD - used,
		UsagePct:                usagePct,
		NextResetDate:           NextResetDate(b, now),
		IsBudgetExceeded:        used > b.AmountUSD,
		IsAlertThresholdReached: b.AlertThresholdPct > 0 && usagePct >= b.AlertThresholdPct,
	}, nil
}
