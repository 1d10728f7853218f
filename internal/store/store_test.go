package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	citizen  = user.User{ID: "u1", Type: user.TypeCitizen}
	employee = user.User{ID: "e1", Type: user.TypeEmployee}
	base     = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

func strPtr(s string) *string { return &s }

func row(id, reporter string, status report.Status, version int64, age time.Duration) report.Report {
	r := report.Report{
		ID:          id,
		Title:       "Report " + id,
		Description: "Details",
		Category:    report.CategoryPublicWorks,
		Status:      status,
		Priority:    report.PriorityMedium,
		ReporterID:  reporter,
		CreatedAt:   base.Add(-age),
		UpdatedAt:   base.Add(-age),
		Version:     version,
	}
	if status != report.StatusPending {
		r.AssignedEmployeeID = strPtr("e1")
	}
	return r
}

func newStore(collab report.Collaborator, viewer user.User) *Store {
	return New(collab, viewer, Options{Now: func() time.Time { return base }})
}

func loadRows(t *testing.T, s *Store, collab *mocks.Collaborator, rows ...report.Report) {
	t.Helper()
	collab.On("Select", mock.Anything, mock.Anything).Return(rows, nil).Once()
	require.NoError(t, s.Load(context.Background()))
}

func ids(rows []report.Report) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestStore_LoadOrdersNewestFirst(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)

	loadRows(t, s, collab,
		row("old", "u1", report.StatusPending, 1, 3*time.Hour),
		row("new", "u2", report.StatusPending, 1, time.Hour),
		row("mid", "u1", report.StatusPending, 1, 2*time.Hour),
	)

	require.True(t, s.Loaded())
	require.Equal(t, []string{"new", "mid", "old"}, ids(s.List(nil)))
	collab.AssertCalled(t, "Select", mock.Anything, report.Query{})
}

func TestStore_LoadScopesCitizenToOwnReports(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, citizen)

	loadRows(t, s, collab,
		row("mine", "u1", report.StatusPending, 1, time.Hour),
		row("theirs", "u2", report.StatusPending, 1, time.Hour),
	)

	require.Equal(t, []string{"mine"}, ids(s.List(nil)))
	collab.AssertCalled(t, "Select", mock.Anything, report.Query{ReporterID: "u1"})
}

func TestStore_LoadFailureKeepsSnapshot(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusPending, 1, time.Hour))

	collab.On("Select", mock.Anything, mock.Anything).Return(nil, errors.New("network down")).Once()
	err := s.Load(context.Background())

	var fetchErr *report.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.True(t, fetchErr.Retryable())
	require.Equal(t, 1, s.Len())
}

func TestStore_CreateValidationFailsWithoutWrite(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, citizen)

	_, err := s.Create(context.Background(), report.Draft{Title: "Only a title"})

	var verr *report.ValidationError
	require.ErrorAs(t, err, &verr)
	require.ElementsMatch(t, []string{"description", "category"}, verr.Fields)
	collab.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	require.Empty(t, s.Pending())
}

func TestStore_CreateSwapsPlaceholderForConfirmedRow(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, citizen)

	draft := report.Draft{
		Title:       "Gas smell",
		Description: "Strong smell near the school",
		Category:    report.CategoryEmergencyServices,
	}
	expected := report.NewRowFromDraft(draft, "u1")
	require.Equal(t, report.PriorityHigh, expected.Priority)

	confirmed := row("r1", "u1", report.StatusPending, 1, 0)
	confirmed.Priority = report.PriorityHigh

	var during []PendingWrite
	collab.On("Insert", mock.Anything, expected).
		Run(func(mock.Arguments) { during = s.Pending() }).
		Return(&confirmed, nil)

	created, err := s.Create(context.Background(), draft)
	require.NoError(t, err)
	require.Equal(t, "r1", created.ID)

	require.Len(t, during, 1)
	require.Equal(t, PhasePendingConfirmation, during[0].Phase)
	require.Equal(t, WriteCreate, during[0].Kind)
	require.Equal(t, report.StatusPending, during[0].Report.Status)

	require.Empty(t, s.Pending())
	got, ok := s.Get("r1")
	require.True(t, ok)
	require.Equal(t, report.PriorityHigh, got.Priority)
}

func TestStore_CreateFailureDropsPlaceholder(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, citizen)

	collab.On("Insert", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := s.Create(context.Background(), report.Draft{
		Title: "Fallen tree", Description: "Blocking the path", Category: report.CategoryParksRecreation,
	})

	var werr *report.WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, "create", werr.Op)
	require.True(t, werr.Retryable())
	require.Empty(t, s.Pending())
	require.Zero(t, s.Len())
}

func TestStore_CreateTimesOut(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := New(collab, citizen, Options{WriteTimeout: 20 * time.Millisecond})

	collab.On("Insert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)

	_, err := s.Create(context.Background(), report.Draft{
		Title: "Graffiti", Description: "On the underpass", Category: report.CategoryPublicWorks,
	})

	var werr *report.WriteError
	require.ErrorAs(t, err, &werr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, s.Pending())
}

func TestStore_UpdateStatusRequiresEmployee(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, citizen)
	loadRows(t, s, collab, row("r1", "u1", report.StatusPending, 1, time.Hour))

	_, err := s.UpdateStatus(context.Background(), "r1", report.StatusInProgress, report.Extra{})
	require.ErrorIs(t, err, report.ErrForbidden)
	collab.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_UpdateStatusUnknownID(t *testing.T) {
	s := newStore(&mocks.Collaborator{}, employee)
	_, err := s.UpdateStatus(context.Background(), "missing", report.StatusInProgress, report.Extra{})
	require.ErrorIs(t, err, report.ErrNotFound)
}

func TestStore_UpdateStatusIllegalTransition(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusPending, 1, time.Hour))

	_, err := s.UpdateStatus(context.Background(), "r1", report.StatusResolved, report.Extra{
		CompletionImageRef: strPtr("evidence/after.jpg"),
	})
	require.ErrorIs(t, err, report.ErrIllegalTransition)
	collab.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_UpdateStatusWritesWholeTransition(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusInProgress, 2, time.Hour))

	resolved := row("r1", "u1", report.StatusResolved, 3, time.Hour)
	completed := base
	resolved.CompletedAt = &completed
	resolved.CompletionImageRef = strPtr("evidence/after.jpg")

	collab.On("Update", mock.Anything, "r1", mock.MatchedBy(func(p report.Patch) bool {
		return p.Status != nil && *p.Status == report.StatusResolved &&
			p.CompletionImageRef != nil && p.CompletedAt != nil
	})).Return(&resolved, nil).Once()

	got, err := s.UpdateStatus(context.Background(), "r1", report.StatusResolved, report.Extra{
		CompletionImageRef: strPtr("evidence/after.jpg"),
	})
	require.NoError(t, err)
	require.Equal(t, report.StatusResolved, got.Status)
	require.Equal(t, int64(3), got.Version)

	stored, _ := s.Get("r1")
	require.Equal(t, report.StatusResolved, stored.Status)
	require.Empty(t, s.Pending())
	collab.AssertNumberOfCalls(t, "Update", 1)
}

func TestStore_UpdateStatusFailureLeavesSnapshot(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusPending, 1, time.Hour))

	collab.On("Update", mock.Anything, "r1", mock.Anything).Return(nil, report.ErrConflict)

	_, err := s.UpdateStatus(context.Background(), "r1", report.StatusInProgress, report.Extra{})

	var werr *report.WriteError
	require.ErrorAs(t, err, &werr)
	require.ErrorIs(t, err, report.ErrConflict)
	stored, _ := s.Get("r1")
	require.Equal(t, report.StatusPending, stored.Status)
	require.Nil(t, stored.AssignedEmployeeID)
	require.Empty(t, s.Pending())
}

func TestStore_ApplyVersionGuard(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusInProgress, 2, time.Hour))

	stale := row("r1", "u1", report.StatusPending, 1, time.Hour)
	require.False(t, s.Apply(report.ChangeEvent{Op: report.OpInsert, Key: "r1", Row: &stale}))
	got, _ := s.Get("r1")
	require.Equal(t, report.StatusInProgress, got.Status)
}

func TestStore_ApplyIsIdempotent(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab,
		row("r1", "u1", report.StatusPending, 1, time.Hour),
		row("r2", "u2", report.StatusPending, 1, 2*time.Hour),
	)

	moved := row("r1", "u1", report.StatusInProgress, 2, time.Hour)
	fresh := row("r3", "u3", report.StatusPending, 1, time.Minute)
	events := []report.ChangeEvent{
		{Op: report.OpUpdate, Key: "r1", Row: &moved},
		{Op: report.OpInsert, Key: "r3", Row: &fresh},
		{Op: report.OpDelete, Key: "r2"},
	}

	for _, evt := range events {
		s.Apply(evt)
	}
	once := s.List(nil)

	for _, evt := range events {
		s.Apply(evt)
	}
	require.Equal(t, once, s.List(nil))
	require.Len(t, once, 2)
	require.Equal(t, []string{"r3", "r1"}, []string{once[0].ID, once[1].ID})
}

func TestStore_ApplyDelete(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab, row("r1", "u1", report.StatusPending, 1, time.Hour))

	require.False(t, s.Apply(report.ChangeEvent{Op: report.OpDelete, Key: "unknown"}))
	require.True(t, s.Apply(report.ChangeEvent{Op: report.OpDelete, Key: "r1"}))
	require.Zero(t, s.Len())

	late := row("r1", "u1", report.StatusPending, 1, time.Hour)
	require.False(t, s.Apply(report.ChangeEvent{Op: report.OpUpdate, Key: "r1", Row: &late}))
	require.Zero(t, s.Len())
}

func TestStore_ApplyHidesOtherCitizensRows(t *testing.T) {
	s := newStore(&mocks.Collaborator{}, citizen)

	other := row("r2", "u2", report.StatusPending, 1, 0)
	require.False(t, s.Apply(report.ChangeEvent{Op: report.OpInsert, Key: "r2", Row: &other}))

	mine := row("r1", "u1", report.StatusPending, 1, 0)
	require.True(t, s.Apply(report.ChangeEvent{Op: report.OpInsert, Key: "r1", Row: &mine}))
	require.Equal(t, []string{"r1"}, ids(s.List(nil)))
}

func TestStore_UpdatesSignal(t *testing.T) {
	s := newStore(&mocks.Collaborator{}, employee)

	r := row("r1", "u1", report.StatusPending, 1, 0)
	s.Apply(report.ChangeEvent{Op: report.OpInsert, Key: "r1", Row: &r})

	select {
	case <-s.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected an update signal")
	}
}

func TestStore_ListFilter(t *testing.T) {
	collab := &mocks.Collaborator{}
	s := newStore(collab, employee)
	loadRows(t, s, collab,
		row("a", "u1", report.StatusPending, 1, time.Hour),
		row("b", "u1", report.StatusInProgress, 2, 2*time.Hour),
	)

	open := s.List(func(r report.Report) bool { return r.Status == report.StatusPending })
	require.Equal(t, []string{"a"}, ids(open))
}
