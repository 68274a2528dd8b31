package cost

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLRepo persists cost records and budgets to SQLite or Postgres, following
// the same dialect-branch/bind pattern as internal/admin.SQLStore.
type SQLRepo struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteRepo opens (and migrates) a SQLite-backed cost/budget store.
func NewSQLiteRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "vgw-cost.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cost repo: %w", err)
	}
	r := &SQLRepo{db: db, dialect: "sqlite"}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepo opens (and migrates) a Postgres-backed cost/budget store.
func NewPostgresRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres cost repo: %w", err)
	}
	r := &SQLRepo{db: db, dialect: "postgres"}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepo) init() error {
	if err := r.db.Ping(); err != nil {
		return fmt.Errorf("ping %s cost repo: %w", r.dialect, err)
	}

	idType := "INTEGER PRIMARY KEY"
	timestampType := "TIMESTAMP"
	if r.dialect == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
		timestampType = "TIMESTAMPTZ"
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS cost_records (
	id %s,
	user_id TEXT NOT NULL,
	project_id TEXT,
	amount_usd REAL NOT NULL,
	created_at %s NOT NULL
);
CREATE TABLE IF NOT EXISTS budgets (
	id TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL,
	project_id TEXT,
	amount_usd REAL NOT NULL,
	start_date %s NOT NULL,
	end_date %s NULL,
	reset_period TEXT NOT NULL,
	alert_threshold_pct REAL NOT NULL,
	enforce BOOLEAN NOT NULL,
	tags TEXT,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
);`, idType, timestampType, timestampType, timestampType, timestampType, timestampType)

	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s cost schema: %w", r.dialect, err)
	}
	return nil
}

func (r *SQLRepo) bind(query string) string {
	if r.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *SQLRepo) CreateCostRecord(ctx context.Context, rec CostRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	q := r.bind(`INSERT INTO cost_records(user_id, project_id, amount_usd, created_at) VALUES(?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, rec.UserID, rec.ProjectID, rec.AmountUSD, rec.Timestamp); err != nil {
		return fmt.Errorf("create cost record: %w", err)
	}
	return nil
}

func (r *SQLRepo) GetCostRecords(ctx context.Context, userID, projectID string, start, end time.Time) ([]CostRecord, error) {
	whereClauses := []string{}
	args := []interface{}{}
	if userID != "" {
		whereClauses = append(whereClauses, "user_id = ?")
		args = append(args, userID)
	}
	if projectID != "" {
		whereClauses = append(whereClauses, "project_id = ?")
		args = append(args, projectID)
	}
	if !start.IsZero() {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, start.UTC())
	}
	if !end.IsZero() {
		whereClauses = append(whereClauses, "created_at <= ?")
		args = append(args, end.UTC())
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	q := r.bind(`SELECT user_id, project_id, amount_usd, created_at FROM cost_records` + whereSQL + ` ORDER BY created_at ASC`)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost records: %w", err)
	}
	defer rows.Close()

	out := make([]CostRecord, 0)
	for rows.Next() {
		var rec CostRecord
		var project sql.NullString
		if err := rows.Scan(&rec.UserID, &project, &rec.AmountUSD, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		rec.ProjectID = project.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLRepo) GetCostSummary(ctx context.Context, start, end time.Time) (Summary, error) {
	records, err := r.GetCostRecords(ctx, "", "", start, end)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{ByModel: map[string]float64{}, ByProvider: map[string]float64{}, ByUser: map[string]float64{}}
	for _, rec := range records {
		s.TotalUSD += rec.AmountUSD
		s.ByUser[rec.UserID] += rec.AmountUSD
	}
	return s, nil
}

func (r *SQLRepo) GetTotalCost(ctx context.Context, userID, projectID string, start, end time.Time) (float64, error) {
	records, err := r.GetCostRecords(ctx, userID, projectID, start, end)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, rec := range records {
		total += rec.AmountUSD
	}
	return total, nil
}

func (r *SQLRepo) CreateBudget(ctx context.Context, b Budget) error {
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

	tagsJSON, err := json.Marshal(b.Tags)
	if err != nil {
		return fmt.Errorf("encode budget tags: %w", err)
	}

	q := r.bind(`INSERT INTO budgets(id, owner_user_id, project_id, amount_usd, start_date, end_date, reset_period, alert_threshold_pct, enforce, tags, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, q, b.ID, b.OwnerUserID, b.ProjectID, b.AmountUSD, b.StartDate, b.EndDate,
		string(b.ResetPeriod), b.AlertThresholdPct, b.Enforce, string(tagsJSON), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create budget: %w", err)
	}
	return nil
}

func (r *SQLRepo) GetBudget(ctx context.Context, id string) (Budget, bool, error) {
	q := r.bind(`SELECT id, owner_user_id, project_id, amount_usd, start_date, end_date, reset_period, alert_threshold_pct, enforce, tags, created_at, updated_at
FROM budgets WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, q, id)
	b, err := scanBudget(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Budget{}, false, nil
		}
		return Budget{}, false, err
	}
	return b, true, nil
}

func (r *SQLRepo) UpdateBudget(ctx context.Context, b Budget) error {
	tagsJSON, err := json.Marshal(b.Tags)
	if err != nil {
		return fmt.Errorf("encode budget tags: %w", err)
	}
	b.UpdatedAt = time.Now().UTC()

	q := r.bind(`UPDATE budgets SET owner_user_id=?, project_id=?, amount_usd=?, start_date=?, end_date=?, reset_period=?, alert_threshold_pct=?, enforce=?, tags=?, updated_at=? WHERE id=?`)
	res, err := r.db.ExecContext(ctx, q, b.OwnerUserID, b.ProjectID, b.AmountUSD, b.StartDate, b.EndDate,
		string(b.ResetPeriod), b.AlertThresholdPct, b.Enforce, string(tagsJSON), b.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("budget not found: %s", b.ID)
	}
	return nil
}

func (r *SQLRepo) DeleteBudget(ctx context.Context, id string) error {
	q := r.bind(`DELETE FROM budgets WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("budget not found: %s", id)
	}
	return nil
}

func (r *SQLRepo) GetBudgetsForUserAndProject(ctx context.Context, userID, projectID string) ([]Budget, error) {
	whereClauses := []string{"owner_user_id = ?"}
	args := []interface{}{userID}
	if projectID != "" {
		whereClauses = append(whereClauses, "(project_id = ? OR project_id IS NULL OR project_id = '')")
		args = append(args, projectID)
	}
	q := r.bind(`SELECT id, owner_user_id, project_id, amount_usd, start_date, end_date, reset_period, alert_threshold_pct, enforce, tags, created_at, updated_at
FROM budgets WHERE ` + strings.Join(whereClauses, " AND "))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	out := make([]Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBudget(s rowScanner) (Budget, error) {
	var (
		b         Budget
		projectID sql.NullString
		endDate   sql.NullTime
		tagsJSON  string
		reset     string
	)
	err := s.Scan(&b.ID, &b.OwnerUserID, &projectID, &b.AmountUSD, &b.StartDate, &endDate, &reset,
		&b.AlertThresholdPct, &b.Enforce, &tagsJSON, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Budget{}, err
	}
	b.ProjectID = projectID.String
	b.ResetPeriod = ResetPeriod(reset)
	if endDate.Valid {
		t := endDate.Time
		b.EndDate = &t
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &b.Tags); err != nil {
			return Budget{}, fmt.Errorf("decode budget tags: %w", err)
		}
	}
	return b, nil
}
