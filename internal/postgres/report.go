// Package postgres implements the report table on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    category TEXT NOT NULL CHECK (category IN ('Public Works', 'Sanitation', 'Parks & Recreation',
        'Transportation', 'Environmental', 'Emergency Services')),
    status TEXT NOT NULL CHECK (status IN ('pending', 'in-progress', 'resolved')),
    priority TEXT NOT NULL CHECK (priority IN ('low', 'medium', 'high')),
    user_id TEXT NOT NULL,
    assigned_employee_id TEXT,
    location_address TEXT,
    location_lat DOUBLE PRECISION,
    location_lng DOUBLE PRECISION,
    original_image_url TEXT,
    audio_description_url TEXT,
    completion_image_url TEXT,
    resolution_notes TEXT,
    ai_analysis_data JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 1
);
ALTER TABLE reports ADD COLUMN IF NOT EXISTS ai_analysis_data JSONB;
CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC);
`

const reportColumns = `id, title, description, category, status, priority, user_id,
	assigned_employee_id, location_address, location_lat, location_lng,
	original_image_url, audio_description_url, completion_image_url, resolution_notes,
	created_at, updated_at, completed_at, version, ai_analysis_data`

// Open connects through the pgx database/sql driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// ReportTable implements report.Table for PostgreSQL.
type ReportTable struct {
	db  *sql.DB
	now func() time.Time
}

var _ report.Table = (*ReportTable)(nil)

// NewReportTable creates a report table over db.
func NewReportTable(db *sql.DB) *ReportTable {
	return &ReportTable{db: db, now: time.Now}
}

// Migrate creates the schema if needed.
func (t *ReportTable) Migrate(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(s rowScanner) (*report.Report, error) {
	var r report.Report
	var analysis []byte
	err := s.Scan(
		&r.ID, &r.Title, &r.Description, &r.Category, &r.Status, &r.Priority, &r.ReporterID,
		&r.AssignedEmployeeID, &r.LocationAddress, &r.LocationLat, &r.LocationLng,
		&r.OriginalImageRef, &r.AudioRef, &r.CompletionImageRef, &r.ResolutionNotes,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt, &r.Version, &analysis,
	)
	if err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		r.AIAnalysis = json.RawMessage(analysis)
	}
	return &r, nil
}

// Get retrieves a report by ID.
func (t *ReportTable) Get(ctx context.Context, id string) (*report.Report, error) {
	rep, err := scanReport(t.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return rep, nil
}

// Select lists reports matching q, newest first unless q.Ascending.
func (t *ReportTable) Select(ctx context.Context, q report.Query) ([]report.Report, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ReporterID != "" {
		where = append(where, "user_id = "+arg(q.ReporterID))
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			placeholders[i] = arg(string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select reports: %w", err)
	}
	defer rows.Close()

	reports := []report.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// Insert writes a new report and returns the stored row.
func (t *ReportTable) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	now := t.now().UTC()
	query := `
		INSERT INTO reports (
			id, title, description, category, status, priority, user_id,
			location_address, location_lat, location_lng,
			original_image_url, audio_description_url, ai_analysis_data,
			created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, 1)
		RETURNING ` + reportColumns

	rep, err := scanReport(t.db.QueryRowContext(ctx, query,
		uuid.NewString(),
		row.Title,
		row.Description,
		string(row.Category),
		string(row.Status),
		string(row.Priority),
		row.ReporterID,
		row.LocationAddress,
		row.LocationLat,
		row.LocationLng,
		row.OriginalImageRef,
		row.AudioRef,
		jsonArg(row.AIAnalysis),
		now,
	))
	if err != nil {
		return nil, mapError("insert report", err)
	}
	return rep, nil
}

// Update applies a partial update and bumps the version. A non-empty
// expected status makes the write conditional on the stored status.
func (t *ReportTable) Update(ctx context.Context, id string, patch report.Patch, expected report.Status) (*report.Report, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", repository.ErrInvalidInput)
	}

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = " + arg(t.now().UTC()), "version = version + 1"}
	if patch.Status != nil {
		sets = append(sets, "status = "+arg(string(*patch.Status)))
	}
	switch {
	case patch.AssignedEmployeeID != nil:
		sets = append(sets, "assigned_employee_id = "+arg(*patch.AssignedEmployeeID))
	case patch.ClearAssignee:
		sets = append(sets, "assigned_employee_id = NULL")
	}
	if patch.CompletionImageRef != nil {
		sets = append(sets, "completion_image_url = "+arg(*patch.CompletionImageRef))
	}
	if patch.ResolutionNotes != nil {
		sets = append(sets, "resolution_notes = "+arg(*patch.ResolutionNotes))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(patch.CompletedAt.UTC()))
	}

	query := "UPDATE reports SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(id)
	if expected != "" {
		query += " AND status = " + arg(string(expected))
	}
	query += " RETURNING " + reportColumns

	rep, err := scanReport(t.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := t.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check report: %w", err)
		}
		if !exists {
			return nil, repository.ErrNotFound
		}
		return nil, repository.ErrConflict
	}
	if err != nil {
		return nil, mapError("update report", err)
	}
	return rep, nil
}

// Delete removes a report.
func (t *ReportTable) Delete(ctx context.Context, id string) error {
	result, err := t.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "23502":
			return fmt.Errorf("%w: %s", repository.ErrInvalidInput, pgErr.Message)
		case "23505":
			return repository.ErrConflict
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
