// Package projection derives display data from a list of reports. Every
// function is pure and recomputes from its input.
package projection

import (
	"slices"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
)

// ForViewer applies the role gate: citizens see their own reports, staff
// see everything. Order is preserved.
func ForViewer(reports []report.Report, viewer user.User) []report.Report {
	out := make([]report.Report, 0, len(reports))
	for _, r := range reports {
		if Visible(r, viewer) {
			out = append(out, r)
		}
	}
	return out
}

// Visible reports whether viewer may see r.
func Visible(r report.Report, viewer user.User) bool {
	return viewer.IsEmployee() || r.ReporterID == viewer.ID
}

// Filter selects reports by status, priority and category. Dimensions
// combine with AND; an empty dimension matches everything.
type Filter struct {
	Statuses   []report.Status   `json:"statuses,omitempty"`
	Priorities []report.Priority `json:"priorities,omitempty"`
	Categories []report.Category `json:"categories,omitempty"`
}

// Match reports whether r passes the filter.
func (f Filter) Match(r report.Report) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, r.Priority) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category) {
		return false
	}
	return true
}

// Apply returns the reports that match, in input order.
func (f Filter) Apply(reports []report.Report) []report.Report {
	out := make([]report.Report, 0, len(reports))
	for _, r := range reports {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Counts is the per-status breakdown of a report list.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

// Count tallies reports by status.
func Count(reports []report.Report) Counts {
	c := Counts{Total: len(reports)}
	for _, r := range reports {
		switch r.Status {
		case report.StatusPending:
			c.Pending++
		case report.StatusInProgress:
			c.InProgress++
		case report.StatusResolved:
			c.Resolved++
		}
	}
	return c
}

// Color is a marker colour on the map view.
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorAmber Color = "amber"
	ColorGray  Color = "gray"
)

// MarkerColor colours resolved reports green and open ones by priority.
func MarkerColor(r report.Report) Color {
	if r.Status == report.StatusResolved {
		return ColorGreen
	}
	switch r.Priority {
	case report.PriorityHigh:
		return ColorRed
	case report.PriorityMedium:
		return ColorAmber
	default:
		return ColorGray
	}
}

// Marker is a map pin for one report.
type Marker struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Lat      float64         `json:"lat"`
	Lng      float64         `json:"lng"`
	Status   report.Status   `json:"status"`
	Priority report.Priority `json:"priority"`
	Color    Color           `json:"color"`
}

// Markers returns pins for reports that carry both coordinates.
func Markers(reports []report.Report) []Marker {
	out := make([]Marker, 0, len(reports))
	for _, r := range reports {
		if !r.HasLocation() {
			continue
		}
		out = append(out, Marker{
			ID:       r.ID,
			Title:    r.Title,
			Lat:      *r.LocationLat,
			Lng:      *r.LocationLng,
			Status:   r.Status,
			Priority: r.Priority,
			Color:    MarkerColor(r),
		})
	}
	return out
}
