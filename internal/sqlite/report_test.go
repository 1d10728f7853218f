package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/repository"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func statusPtr(s report.Status) *report.Status { return &s }

func newRow(reporter string, category report.Category) report.NewRow {
	return report.NewRow{
		Title:       "Pothole on Main St",
		Description: "Large pothole near the crosswalk",
		Category:    category,
		Status:      report.StatusPending,
		Priority:    report.DefaultPriority(category),
		ReporterID:  reporter,
	}
}

func TestReportTable_InsertGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	row := newRow("u1", report.CategoryPublicWorks)
	row.LocationLat = floatPtr(40.7128)
	row.LocationLng = floatPtr(-74.006)
	row.LocationAddress = strPtr("1 Main St")

	created, err := table.Insert(ctx, row)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, int64(1), created.Version)
	require.Equal(t, report.StatusPending, created.Status)
	require.Equal(t, report.PriorityMedium, created.Priority)
	require.Nil(t, created.AssignedEmployeeID)
	require.Nil(t, created.CompletedAt)
	require.False(t, created.CreatedAt.IsZero())

	loaded, err := table.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", loaded.ReporterID)
	require.InDelta(t, 40.7128, *loaded.LocationLat, 1e-9)
	require.Equal(t, "1 Main St", *loaded.LocationAddress)
}

func TestReportTable_AIAnalysisPassThrough(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	row := newRow("u1", report.CategorySanitation)
	row.AIAnalysis = json.RawMessage(`{"labels":["trash","overflow"],"confidence":0.92}`)
	created, err := table.Insert(ctx, row)
	require.NoError(t, err)
	require.JSONEq(t, string(row.AIAnalysis), string(created.AIAnalysis))

	plain, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)
	require.Nil(t, plain.AIAnalysis)

	row.AIAnalysis = json.RawMessage(`{"labels":`)
	_, err = table.Insert(ctx, row)
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestReportTable_GetNotFound(t *testing.T) {
	db := NewTestDB(t)
	_, err := NewReportTable(db).Get(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReportTable_SelectFiltersAndOrder(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	table.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)
	second, err := table.Insert(ctx, newRow("u2", report.CategoryEmergencyServices))
	require.NoError(t, err)
	third, err := table.Insert(ctx, newRow("u1", report.CategoryParksRecreation))
	require.NoError(t, err)

	_, err = table.Update(ctx, third.ID, report.Patch{
		Status:             statusPtr(report.StatusInProgress),
		AssignedEmployeeID: strPtr("e1"),
	}, report.StatusPending)
	require.NoError(t, err)

	all, err := table.Select(ctx, report.Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	asc, err := table.Select(ctx, report.Query{Ascending: true, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, []string{asc[0].ID, asc[1].ID})

	mine, err := table.Select(ctx, report.Query{ReporterID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	open, err := table.Select(ctx, report.Query{Statuses: []report.Status{report.StatusPending}})
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, r := range open {
		require.Equal(t, report.StatusPending, r.Status)
	}
}

func TestReportTable_UpdateBumpsVersion(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	created, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)

	started, err := table.Update(ctx, created.ID, report.Patch{
		Status:             statusPtr(report.StatusInProgress),
		AssignedEmployeeID: strPtr("e1"),
	}, report.StatusPending)
	require.NoError(t, err)
	require.Equal(t, int64(2), started.Version)
	require.Equal(t, "e1", *started.AssignedEmployeeID)

	completed := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	resolved, err := table.Update(ctx, created.ID, report.Patch{
		Status:             statusPtr(report.StatusResolved),
		CompletionImageRef: strPtr("evidence/after.jpg"),
		ResolutionNotes:    strPtr("Swept"),
		CompletedAt:        &completed,
	}, report.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, int64(3), resolved.Version)
	require.Equal(t, report.StatusResolved, resolved.Status)
	require.Equal(t, "e1", *resolved.AssignedEmployeeID)
	require.True(t, completed.Equal(*resolved.CompletedAt))
	require.NoError(t, report.CheckInvariants(*resolved))
}

func TestReportTable_UpdateClearsAssignee(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	created, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)
	_, err = table.Update(ctx, created.ID, report.Patch{
		Status:             statusPtr(report.StatusInProgress),
		AssignedEmployeeID: strPtr("e1"),
	}, "")
	require.NoError(t, err)

	reopened, err := table.Update(ctx, created.ID, report.Patch{
		Status:        statusPtr(report.StatusPending),
		ClearAssignee: true,
	}, report.StatusInProgress)
	require.NoError(t, err)
	require.Nil(t, reopened.AssignedEmployeeID)
}

func TestReportTable_UpdateConflictAndNotFound(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	created, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)

	_, err = table.Update(ctx, created.ID, report.Patch{Status: statusPtr(report.StatusResolved)}, report.StatusInProgress)
	require.ErrorIs(t, err, repository.ErrConflict)

	loaded, err := table.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)

	_, err = table.Update(ctx, "missing", report.Patch{Status: statusPtr(report.StatusInProgress)}, "")
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = table.Update(ctx, created.ID, report.Patch{}, "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestReportTable_InsertRejectsUnknownCategory(t *testing.T) {
	db := NewTestDB(t)
	_, err := NewReportTable(db).Insert(context.Background(), newRow("u1", report.Category("Zoning")))
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestReportTable_Delete(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	table := NewReportTable(db)

	created, err := table.Insert(ctx, newRow("u1", report.CategorySanitation))
	require.NoError(t, err)

	require.NoError(t, table.Delete(ctx, created.ID))
	require.ErrorIs(t, table.Delete(ctx, created.ID), repository.ErrNotFound)
}
