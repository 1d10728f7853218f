package projection

import (
	"testing"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func rep(id, reporter string, status report.Status, priority report.Priority, category report.Category) report.Report {
	return report.Report{
		ID:         id,
		Title:      "Report " + id,
		ReporterID: reporter,
		Status:     status,
		Priority:   priority,
		Category:   category,
	}
}

func located(r report.Report, lat, lng float64) report.Report {
	r.LocationLat = floatPtr(lat)
	r.LocationLng = floatPtr(lng)
	return r
}

func ids(rows []report.Report) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

var sample = []report.Report{
	rep("a", "u1", report.StatusPending, report.PriorityHigh, report.CategoryEmergencyServices),
	rep("b", "u2", report.StatusInProgress, report.PriorityMedium, report.CategoryPublicWorks),
	rep("c", "u1", report.StatusResolved, report.PriorityLow, report.CategorySanitation),
	rep("d", "u3", report.StatusPending, report.PriorityLow, report.CategoryPublicWorks),
}

func TestForViewer(t *testing.T) {
	citizen := user.User{ID: "u1", Type: user.TypeCitizen}
	staff := user.User{ID: "e1", Type: user.TypeEmployee}

	require.Equal(t, []string{"a", "c"}, ids(ForViewer(sample, citizen)))
	require.Equal(t, []string{"a", "b", "c", "d"}, ids(ForViewer(sample, staff)))
	require.Empty(t, ForViewer(sample, user.User{ID: "nobody", Type: user.TypeCitizen}))
}

func TestFilter_Conjunctive(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty matches all", Filter{}, []string{"a", "b", "c", "d"}},
		{"status", Filter{Statuses: []report.Status{report.StatusPending}}, []string{"a", "d"}},
		{"status and priority", Filter{
			Statuses:   []report.Status{report.StatusPending},
			Priorities: []report.Priority{report.PriorityLow},
		}, []string{"d"}},
		{"any of several categories", Filter{
			Categories: []report.Category{report.CategoryPublicWorks, report.CategorySanitation},
		}, []string{"b", "c", "d"}},
		{"no match", Filter{
			Statuses:   []report.Status{report.StatusResolved},
			Categories: []report.Category{report.CategoryPublicWorks},
		}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ids(tt.filter.Apply(sample)))
		})
	}
}

func TestCount(t *testing.T) {
	c := Count(sample)
	require.Equal(t, Counts{Total: 4, Pending: 2, InProgress: 1, Resolved: 1}, c)
	require.Equal(t, c.Total, c.Pending+c.InProgress+c.Resolved)
	require.Equal(t, Counts{}, Count(nil))
}

func TestMarkers(t *testing.T) {
	rows := []report.Report{
		located(sample[0], 40.1, -73.9),
		located(sample[1], 40.2, -73.8),
		located(sample[2], 40.3, -73.7),
		located(sample[3], 40.4, -73.6),
		rep("no-location", "u1", report.StatusPending, report.PriorityHigh, report.CategorySanitation),
	}
	half := rep("half", "u1", report.StatusPending, report.PriorityHigh, report.CategorySanitation)
	half.LocationLat = floatPtr(1)
	rows = append(rows, half)

	markers := Markers(rows)
	require.Len(t, markers, 4)

	colors := map[string]Color{}
	for _, m := range markers {
		colors[m.ID] = m.Color
	}
	require.Equal(t, map[string]Color{
		"a": ColorRed,
		"b": ColorAmber,
		"c": ColorGreen,
		"d": ColorGray,
	}, colors)
	require.InDelta(t, 40.1, markers[0].Lat, 1e-9)
}

func TestMarkerColor_ResolvedOverridesPriority(t *testing.T) {
	r := rep("x", "u1", report.StatusResolved, report.PriorityHigh, report.CategorySanitation)
	require.Equal(t, ColorGreen, MarkerColor(r))
}
