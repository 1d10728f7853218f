package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/repository"
)

const reportColumns = `
	id, title, description, category, status, priority, user_id,
	assigned_employee_id, location_address, location_lat, location_lng,
	original_image_url, audio_description_url, completion_image_url, resolution_notes,
	created_at, updated_at, completed_at, version, ai_analysis_data`

// ReportTable implements report.Table for SQLite
type ReportTable struct {
	db  *DB
	now func() time.Time
}

// NewReportTable creates a new ReportTable
func NewReportTable(db *DB) *ReportTable {
	return &ReportTable{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(s rowScanner) (*report.Report, error) {
	var r report.Report
	var analysis []byte
	err := s.Scan(
		&r.ID,
		&r.Title,
		&r.Description,
		&r.Category,
		&r.Status,
		&r.Priority,
		&r.ReporterID,
		&r.AssignedEmployeeID,
		&r.LocationAddress,
		&r.LocationLat,
		&r.LocationLng,
		&r.OriginalImageRef,
		&r.AudioRef,
		&r.CompletionImageRef,
		&r.ResolutionNotes,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CompletedAt,
		&r.Version,
		&analysis,
	)
	if err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		r.AIAnalysis = json.RawMessage(analysis)
	}
	return &r, nil
}

// Get retrieves a report by ID
func (t *ReportTable) Get(ctx context.Context, id string) (*report.Report, error) {
	return t.get(ctx, t.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (t *ReportTable) get(ctx context.Context, q queryRower, id string) (*report.Report, error) {
	rep, err := scanReport(q.QueryRowContext(ctx, `SELECT`+reportColumns+` FROM reports WHERE id = ?`, id))
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
	if q.ReporterID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.ReporterID)
	}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			placeholders[i] = "?"
			args = append(args, s)
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
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

// Insert writes a new report and returns the stored row
func (t *ReportTable) Insert(ctx context.Context, row report.NewRow) (*report.Report, error) {
	now := t.now().UTC()
	id := uuid.NewString()

	query := `
		INSERT INTO reports (
			id, title, description, category, status, priority, user_id,
			location_address, location_lat, location_lng,
			original_image_url, audio_description_url, ai_analysis_data,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := t.db.ExecContext(ctx, query,
		id,
		row.Title,
		row.Description,
		row.Category,
		row.Status,
		row.Priority,
		row.ReporterID,
		row.LocationAddress,
		row.LocationLat,
		row.LocationLng,
		row.OriginalImageRef,
		row.AudioRef,
		jsonArg(row.AIAnalysis),
		now,
		now,
	)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
		}
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	return t.Get(ctx, id)
}

// Update applies a partial update and bumps the version. A non-empty
// expected status makes the write conditional on the stored status.
func (t *ReportTable) Update(ctx context.Context, id string, patch report.Patch, expected report.Status) (*report.Report, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty patch", repository.ErrInvalidInput)
	}

	sets := []string{"updated_at = ?", "version = version + 1"}
	args := []any{t.now().UTC()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	switch {
	case patch.AssignedEmployeeID != nil:
		sets = append(sets, "assigned_employee_id = ?")
		args = append(args, *patch.AssignedEmployeeID)
	case patch.ClearAssignee:
		sets = append(sets, "assigned_employee_id = NULL")
	}
	if patch.CompletionImageRef != nil {
		sets = append(sets, "completion_image_url = ?")
		args = append(args, *patch.CompletionImageRef)
	}
	if patch.ResolutionNotes != nil {
		sets = append(sets, "resolution_notes = ?")
		args = append(args, *patch.ResolutionNotes)
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, patch.CompletedAt.UTC())
	}

	query := "UPDATE reports SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if expected != "" {
		query += " AND status = ?"
		args = append(args, expected)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if affected == 0 {
		// Either the row is gone or its status moved under us.
		if _, err := t.get(ctx, tx, id); err != nil {
			return nil, err
		}
		return nil, repository.ErrConflict
	}

	rep, err := t.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return rep, nil
}

// Delete removes a report. Reports are never deleted by the lifecycle;
// this exists for administrative cleanup.
func (t *ReportTable) Delete(ctx context.Context, id string) error {
	result, err := t.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
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

// jsonArg stores absent analysis as NULL rather than an empty string.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
