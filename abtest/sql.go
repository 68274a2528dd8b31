package abtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLRepo persists experiments, sticky assignments, and results in SQLite or
// Postgres, following the same dialect-branch/bind pattern as
// internal/admin.SQLStore and internal/requestlog.SQLWriter.
type SQLRepo struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteRepo opens (and migrates) a SQLite-backed Repo.
func NewSQLiteRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "vgw-abtest.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite abtest repo: %w", err)
	}
	r := &SQLRepo{db: db, dialect: dialectSQLite}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepo opens (and migrates) a Postgres-backed Repo.
func NewPostgresRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres abtest repo: %w", err)
	}
	r := &SQLRepo{db: db, dialect: dialectPostgres}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepo) init() error {
	if err := r.db.Ping(); err != nil {
		return fmt.Errorf("ping %s abtest repo: %w", r.dialect, err)
	}

	timestampType := "DATETIME"
	idType := "INTEGER"
	if r.dialect == dialectPostgres {
		timestampType = "TIMESTAMPTZ"
		idType = "TEXT"
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS ab_experiments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL,
	start_date %[1]s NOT NULL,
	end_date %[1]s NULL,
	traffic_allocation_pct REAL NOT NULL,
	control_model_id TEXT NOT NULL,
	treatment_model_id TEXT NOT NULL,
	user_segments TEXT NOT NULL,
	metrics TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at %[1]s NOT NULL
);
CREATE TABLE IF NOT EXISTS ab_assignments (
	experiment_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	variant TEXT NOT NULL,
	assigned_at %[1]s NOT NULL,
	PRIMARY KEY (experiment_id, user_id)
);
CREATE TABLE IF NOT EXISTS ab_results (
	id %[2]s PRIMARY KEY %[3]s,
	experiment_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	variant TEXT NOT NULL,
	model_id TEXT NOT NULL,
	metrics TEXT NOT NULL,
	created_at %[1]s NOT NULL
);`, timestampType, idType, autoIncrementClause(r.dialect))

	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s abtest schema: %w", r.dialect, err)
	}
	return nil
}

func autoIncrementClause(d sqlDialect) string {
	if d == dialectPostgres {
		return "DEFAULT gen_random_uuid()"
	}
	return "AUTOINCREMENT"
}

func (r *SQLRepo) bind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	argNum := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (r *SQLRepo) GetActiveExperimentsForModel(ctx context.Context, controlModelID string) ([]Experiment, error) {
	q := r.bind(`SELECT id, name, active, start_date, end_date, traffic_allocation_pct, control_model_id, treatment_model_id, user_segments, metrics, created_by, created_at
FROM ab_experiments WHERE control_model_id = ?`)
	rows, err := r.db.QueryContext(ctx, q, controlModelID)
	if err != nil {
		return nil, fmt.Errorf("query active experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLRepo) GetAssignment(ctx context.Context, experimentID, userID string) (Assignment, bool, error) {
	q := r.bind(`SELECT experiment_id, user_id, variant, assigned_at FROM ab_assignments WHERE experiment_id = ? AND user_id = ?`)
	row := r.db.QueryRowContext(ctx, q, experimentID, userID)
	var a Assignment
	var variant string
	if err := row.Scan(&a.ExperimentID, &a.UserID, &variant, &a.AssignedAt); err != nil {
		if err == sql.ErrNoRows {
			return Assignment{}, false, nil
		}
		return Assignment{}, false, fmt.Errorf("get assignment: %w", err)
	}
	a.Variant = Variant(variant)
	return a, true, nil
}

// SetAssignment performs an insert-if-absent upsert so concurrent
// first-assignment races converge on a single winner, matching the
// sync.Map-backed in-memory repo's semantics.
func (r *SQLRepo) SetAssignment(ctx context.Context, a Assignment) error {
	var q string
	switch r.dialect {
	case dialectPostgres:
		q = r.bind(`INSERT INTO ab_assignments(experiment_id, user_id, variant, assigned_at) VALUES(?, ?, ?, ?)
ON CONFLICT (experiment_id, user_id) DO NOTHING`)
	default:
		q = r.bind(`INSERT OR IGNORE INTO ab_assignments(experiment_id, user_id, variant, assigned_at) VALUES(?, ?, ?, ?)`)
	}
	if _, err := r.db.ExecContext(ctx, q, a.ExperimentID, a.UserID, string(a.Variant), a.AssignedAt); err != nil {
		return fmt.Errorf("set assignment: %w", err)
	}
	return nil
}

func (r *SQLRepo) CreateExperiment(ctx context.Context, e Experiment) error {
	segments, err := json.Marshal(e.UserSegments)
	if err != nil {
		return fmt.Errorf("encode user segments: %w", err)
	}
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := r.bind(`INSERT INTO ab_experiments(id, name, active, start_date, end_date, traffic_allocation_pct, control_model_id, treatment_model_id, user_segments, metrics, created_by, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, q, e.ID, e.Name, e.Active, e.StartDate, e.EndDate,
		e.TrafficAllocationPct, e.ControlModelID, e.TreatmentModelID, string(segments), string(metrics), e.CreatedBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

func (r *SQLRepo) GetExperiment(ctx context.Context, id string) (Experiment, bool, error) {
	q := r.bind(`SELECT id, name, active, start_date, end_date, traffic_allocation_pct, control_model_id, treatment_model_id, user_segments, metrics, created_by, created_at
FROM ab_experiments WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, q, id)
	e, err := scanExperiment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Experiment{}, false, nil
		}
		return Experiment{}, false, err
	}
	return e, true, nil
}

func (r *SQLRepo) ListExperiments(ctx context.Context) ([]Experiment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, active, start_date, end_date, traffic_allocation_pct, control_model_id, treatment_model_id, user_segments, metrics, created_by, created_at FROM ab_experiments`)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLRepo) UpdateExperiment(ctx context.Context, e Experiment) error {
	segments, _ := json.Marshal(e.UserSegments)
	metrics, _ := json.Marshal(e.Metrics)
	q := r.bind(`UPDATE ab_experiments SET name=?, active=?, start_date=?, end_date=?, traffic_allocation_pct=?, control_model_id=?, treatment_model_id=?, user_segments=?, metrics=? WHERE id=?`)
	res, err := r.db.ExecContext(ctx, q, e.Name, e.Active, e.StartDate, e.EndDate, e.TrafficAllocationPct,
		e.ControlModelID, e.TreatmentModelID, string(segments), string(metrics), e.ID)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("experiment not found: %s", e.ID)
	}
	return nil
}

func (r *SQLRepo) DeleteExperiment(ctx context.Context, id string) error {
	q := r.bind(`DELETE FROM ab_experiments WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("experiment not found: %s", id)
	}
	return nil
}

func (r *SQLRepo) RecordResult(ctx context.Context, res Result) error {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("encode result metrics: %w", err)
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	q := r.bind(`INSERT INTO ab_results(experiment_id, user_id, request_id, variant, model_id, metrics, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, res.ExperimentID, res.UserID, res.RequestID, string(res.Variant), res.ModelID, string(metricsJSON), res.Timestamp); err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

func (r *SQLRepo) GetResults(ctx context.Context, experimentID string) ([]Result, error) {
	q := r.bind(`SELECT experiment_id, user_id, request_id, variant, model_id, metrics, created_at FROM ab_results WHERE experiment_id = ?`)
	rows, err := r.db.QueryContext(ctx, q, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var res Result
		var variant, metricsJSON string
		if err := rows.Scan(&res.ExperimentID, &res.UserID, &res.RequestID, &variant, &res.ModelID, &metricsJSON, &res.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Variant = Variant(variant)
		if err := json.Unmarshal([]byte(metricsJSON), &res.Metrics); err != nil {
			return nil, fmt.Errorf("decode result metrics: %w", err)
		}
		out = append(out, res)
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

func scanExperiment(s rowScanner) (Experiment, error) {
	var (
		e              Experiment
		endDate        sql.NullTime
		segmentsJSON   string
		metricsJSON    string
	)
	err := s.Scan(&e.ID, &e.Name, &e.Active, &e.StartDate, &endDate, &e.TrafficAllocationPct,
		&e.ControlModelID, &e.TreatmentModelID, &segmentsJSON, &metricsJSON, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return Experiment{}, err
	}
	if endDate.Valid {
		t := endDate.Time
		e.EndDate = &t
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &e.UserSegments); err != nil {
		return Experiment{}, fmt.Errorf("decode user segments: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &e.Metrics); err != nil {
		return Experiment{}, fmt.Errorf("decode metrics: %w", err)
	}
	return e, nil
}
