package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/repository"
	"github.com/stretchr/testify/require"
)

var (
	columns = []string{
		"id", "title", "description", "category", "status", "priority", "user_id",
		"assigned_employee_id", "location_address", "location_lat", "location_lng",
		"original_image_url", "audio_description_url", "completion_image_url", "resolution_notes",
		"created_at", "updated_at", "completed_at", "version", "ai_analysis_data",
	}
	fixed = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

func strPtr(s string) *string { return &s }

func newTable(t *testing.T) (*ReportTable, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	table := NewReportTable(db)
	table.now = func() time.Time { return fixed }
	return table, mock
}

func pendingValues(id string, version int64) []driver.Value {
	return []driver.Value{
		id, "Pothole", "Deep pothole", "Public Works", "pending", "medium", "u1",
		nil, nil, nil, nil, nil, nil, nil, nil,
		fixed, fixed, nil, version, nil,
	}
}

func TestReportTable_Insert(t *testing.T) {
	table, mock := newTable(t)

	mock.ExpectQuery("INSERT INTO reports").
		WithArgs(sqlmock.AnyArg(), "Pothole", "Deep pothole", "Public Works", "pending", "medium", "u1",
			nil, nil, nil, nil, nil, nil, fixed).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(pendingValues("r1", 1)...))

	rep, err := table.Insert(context.Background(), report.NewRow{
		Title:       "Pothole",
		Description: "Deep pothole",
		Category:    report.CategoryPublicWorks,
		Status:      report.StatusPending,
		Priority:    report.PriorityMedium,
		ReporterID:  "u1",
	})
	require.NoError(t, err)
	require.Equal(t, "r1", rep.ID)
	require.Equal(t, report.CategoryPublicWorks, rep.Category)
	require.Equal(t, int64(1), rep.Version)
	require.Nil(t, rep.AssignedEmployeeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportTable_InsertCheckViolation(t *testing.T) {
	table, mock := newTable(t)

	mock.ExpectQuery("INSERT INTO reports").
		WillReturnError(&pgconn.PgError{Code: "23514", Message: "violates check constraint"})

	_, err := table.Insert(context.Background(), report.NewRow{Category: "Zoning"})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestReportTable_SelectBuildsFilters(t *testing.T) {
	table, mock := newTable(t)

	mock.ExpectQuery(`FROM reports WHERE user_id = \$1 AND status IN \(\$2, \$3\) ORDER BY created_at DESC, id DESC LIMIT \$4`).
		WithArgs("u1", "pending", "in-progress", 25).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(pendingValues("r2", 1)...).
			AddRow(pendingValues("r1", 3)...))

	rows, err := table.Select(context.Background(), report.Query{
		ReporterID: "u1",
		Statuses:   []report.Status{report.StatusPending, report.StatusInProgress},
		Limit:      25,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(3), rows[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportTable_SelectAscendingWithoutFilters(t *testing.T) {
	table, mock := newTable(t)

	mock.ExpectQuery(`FROM reports ORDER BY created_at ASC, id ASC$`).
		WillReturnRows(sqlmock.NewRows(columns))

	rows, err := table.Select(context.Background(), report.Query{Ascending: true})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportTable_UpdateConditional(t *testing.T) {
	table, mock := newTable(t)

	values := pendingValues("r1", 2)
	values[4] = "in-progress"
	values[7] = "e1"

	mock.ExpectQuery(`UPDATE reports SET updated_at = \$1, version = version \+ 1, status = \$2, assigned_employee_id = \$3 WHERE id = \$4 AND status = \$5 RETURNING`).
		WithArgs(fixed, "in-progress", "e1", "r1", "pending").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(values...))

	status := report.StatusInProgress
	rep, err := table.Update(context.Background(), "r1", report.Patch{
		Status:             &status,
		AssignedEmployeeID: strPtr("e1"),
	}, report.StatusPending)
	require.NoError(t, err)
	require.Equal(t, report.StatusInProgress, rep.Status)
	require.Equal(t, "e1", *rep.AssignedEmployeeID)
	require.Equal(t, int64(2), rep.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportTable_UpdateConflictAndNotFound(t *testing.T) {
	table, mock := newTable(t)
	status := report.StatusResolved
	patch := report.Patch{Status: &status, ClearAssignee: true}

	mock.ExpectQuery("UPDATE reports SET").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := table.Update(context.Background(), "r1", patch, report.StatusInProgress)
	require.ErrorIs(t, err, repository.ErrConflict)

	mock.ExpectQuery("UPDATE reports SET").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = table.Update(context.Background(), "missing", patch, "")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportTable_UpdateRejectsEmptyPatch(t *testing.T) {
	table, _ := newTable(t)
	_, err := table.Update(context.Background(), "r1", report.Patch{}, "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestReportTable_Delete(t *testing.T) {
	table, mock := newTable(t)

	mock.ExpectExec("DELETE FROM reports").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM reports").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, table.Delete(context.Background(), "r1"))
	require.ErrorIs(t, table.Delete(context.Background(), "r1"), repository.ErrNotFound)
}

func TestReportTable_Migrate(t *testing.T) {
	table, mock := newTable(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reports").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, table.Migrate(context.Background()))
}
