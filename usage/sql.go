package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLRepo persists usage records to SQLite or Postgres, following the same
// dialect-branch/bind pattern as internal/requestlog.SQLWriter.
type SQLRepo struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteRepo opens (and migrates) a SQLite-backed usage ledger.
func NewSQLiteRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "vgw-usage.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite usage repo: %w", err)
	}
	r := &SQLRepo{db: db, dialect: "sqlite"}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepo opens (and migrates) a Postgres-backed usage ledger.
func NewPostgresRepo(dsn string) (*SQLRepo, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres usage repo: %w", err)
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
		return fmt.Errorf("ping %s usage repo: %w", r.dialect, err)
	}

	idType := "INTEGER PRIMARY KEY"
	timestampType := "TIMESTAMP"
	if r.dialect == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
		timestampType = "TIMESTAMPTZ"
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS usage_records (
	id %s,
	request_id TEXT,
	user_id TEXT,
	api_key_id TEXT,
	provider TEXT NOT NULL,
	model_id TEXT NOT NULL,
	operation_type TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	estimated_cost_usd REAL NOT NULL,
	project_id TEXT,
	tags TEXT,
	created_at %s NOT NULL
);`, idType, timestampType)

	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s usage schema: %w", r.dialect, err)
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

func (r *SQLRepo) Append(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens

	q := r.bind(`INSERT INTO usage_records(request_id, user_id, api_key_id, provider, model_id, operation_type, prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd, project_id, tags, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, rec.RequestID, rec.UserID, rec.APIKeyID, rec.Provider, rec.ModelID, string(rec.OperationType),
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.EstimatedCostUSD, rec.ProjectID, strings.Join(rec.Tags, ","), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

func (r *SQLRepo) queryBy(ctx context.Context, column, value string, start, end time.Time) ([]Record, error) {
	whereClauses := []string{column + " = ?"}
	args := []interface{}{value}
	if !start.IsZero() {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, start.UTC())
	}
	if !end.IsZero() {
		whereClauses = append(whereClauses, "created_at <= ?")
		args = append(args, end.UTC())
	}

	q := r.bind(`SELECT request_id, user_id, api_key_id, provider, model_id, operation_type, prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd, project_id, tags, created_at
FROM usage_records WHERE ` + strings.Join(whereClauses, " AND ") + ` ORDER BY created_at ASC`)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records by %s: %w", column, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *SQLRepo) ByUser(ctx context.Context, userID string, start, end time.Time) ([]Record, error) {
	return r.queryBy(ctx, "user_id", userID, start, end)
}

func (r *SQLRepo) ByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]Record, error) {
	return r.queryBy(ctx, "api_key_id", apiKeyID, start, end)
}

func (r *SQLRepo) ByModel(ctx context.Context, modelID string, start, end time.Time) ([]Record, error) {
	return r.queryBy(ctx, "model_id", modelID, start, end)
}

func (r *SQLRepo) ByProvider(ctx context.Context, provider string, start, end time.Time) ([]Record, error) {
	return r.queryBy(ctx, "provider", provider, start, end)
}

func (r *SQLRepo) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	whereClauses := []string{}
	args := []interface{}{}
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

	q := r.bind(`SELECT COUNT(*), COALESCE(SUM(prompt_tokens),0), COALESCE(SUM(completion_tokens),0), COALESCE(SUM(total_tokens),0), COALESCE(SUM(estimated_cost_usd),0)
FROM usage_records` + whereSQL)

	var s Summary
	row := r.db.QueryRowContext(ctx, q, args...)
	if err := row.Scan(&s.RequestCount, &s.PromptTokens, &s.CompletionTokens, &s.TotalTokens, &s.EstimatedCostUSD); err != nil {
		return Summary{}, fmt.Errorf("summarize usage: %w", err)
	}
	return s, nil
}

func (r *SQLRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	q := r.bind(`DELETE FROM usage_records WHERE created_at < ?`)
	res, err := r.db.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge usage records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge usage records: %w", err)
	}
	return int(affected), nil
}

func (r *SQLRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec           Record
			requestID     sql.NullString
			userID        sql.NullString
			apiKeyID      sql.NullString
			projectID     sql.NullString
			tags          sql.NullString
			operationType string
		)
		if err := rows.Scan(&requestID, &userID, &apiKeyID, &rec.Provider, &rec.ModelID, &operationType,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &rec.EstimatedCostUSD, &projectID, &tags, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.RequestID = requestID.String
		rec.UserID = userID.String
		rec.APIKeyID = apiKeyID.String
		rec.ProjectID = projectID.String
		rec.OperationType = OperationType(operationType)
		if tags.Valid && tags.String != "" {
			rec.Tags = strings.Split(tags.String, ",")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
