package mcp

import (
	"context"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/projection"
	"github.com/rpggio/civicsync/internal/store"
)

const timeLayout = time.RFC3339

type tools struct {
	desk   Desk
	logger *slog.Logger
	now    func() time.Time
}

// reportView is the tool-facing shape of a report. Timestamps are
// RFC 3339 strings.
type reportView struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category"`
	Status             string   `json:"status"`
	Priority           string   `json:"priority"`
	ReporterID         string   `json:"user_id"`
	AssignedEmployeeID string   `json:"assigned_employee_id,omitempty"`
	LocationAddress    string   `json:"location_address,omitempty"`
	LocationLat        *float64 `json:"location_lat,omitempty"`
	LocationLng        *float64 `json:"location_lng,omitempty"`
	OriginalImageRef   string   `json:"original_image_url,omitempty"`
	AudioRef           string   `json:"audio_description_url,omitempty"`
	CompletionImageRef string   `json:"completion_image_url,omitempty"`
	ResolutionNotes    string   `json:"resolution_notes,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
	CompletedAt        string   `json:"completed_at,omitempty"`
	Version            int64    `json:"version"`
	MarkerColor        string   `json:"marker_color"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toView(r report.Report, full bool) reportView {
	v := reportView{
		ID:                 r.ID,
		Title:              r.Title,
		Category:           string(r.Category),
		Status:             string(r.Status),
		Priority:           string(r.Priority),
		ReporterID:         r.ReporterID,
		AssignedEmployeeID: deref(r.AssignedEmployeeID),
		LocationAddress:    deref(r.LocationAddress),
		CreatedAt:          r.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:          r.UpdatedAt.UTC().Format(timeLayout),
		Version:            r.Version,
		MarkerColor:        string(projection.MarkerColor(r)),
	}
	if r.CompletedAt != nil {
		v.CompletedAt = r.CompletedAt.UTC().Format(timeLayout)
	}
	if full {
		v.Description = r.Description
		v.LocationLat = r.LocationLat
		v.LocationLng = r.LocationLng
		v.OriginalImageRef = deref(r.OriginalImageRef)
		v.AudioRef = deref(r.AudioRef)
		v.CompletionImageRef = deref(r.CompletionImageRef)
		v.ResolutionNotes = deref(r.ResolutionNotes)
	}
	return v
}

type listReportsInput struct {
	Statuses   []report.Status   `json:"statuses,omitempty" jsonschema:"only these statuses: pending, in-progress, resolved"`
	Priorities []report.Priority `json:"priorities,omitempty" jsonschema:"only these priorities: low, medium, high"`
	Categories []report.Category `json:"categories,omitempty" jsonschema:"only these departments, e.g. Sanitation"`
	Limit      int               `json:"limit,omitempty" jsonschema:"maximum number of reports, newest first"`
}

type countsView struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

type listReportsOutput struct {
	Reports      []reportView `json:"reports"`
	Matched      int          `json:"matched"`
	Counts       countsView   `json:"counts"`
	PendingWrite int          `json:"pending_writes"`
	Sync         string       `json:"sync"`
}

type getReportInput struct {
	ID string `json:"id" jsonschema:"report id"`
}

type reportOutput struct {
	Report reportView `json:"report"`
	Sync   string     `json:"sync"`
}

type reportCountsInput struct{}

type categoryView struct {
	Category string `json:"category"`
	Total    int    `json:"total"`
	Resolved int    `json:"resolved"`
}

type trendView struct {
	Date     string `json:"date"`
	Reported int    `json:"reported"`
	Resolved int    `json:"resolved"`
}

type resolutionView struct {
	Rate            float64 `json:"resolution_rate"`
	MeanHours       float64 `json:"mean_resolution_hours"`
	SameDay         int     `json:"same_day"`
	OneToTwoDays    int     `json:"one_to_two_days"`
	ThreeToFiveDays int     `json:"three_to_five_days"`
	WeekOrMore      int     `json:"week_or_more"`
}

type reportCountsOutput struct {
	Counts     countsView     `json:"counts"`
	ByCategory []categoryView `json:"by_category"`
	Resolution resolutionView `json:"resolution"`
	Week       []trendView    `json:"week"`
	Sync       string         `json:"sync"`
}

type beginWorkInput struct {
	ID         string `json:"id" jsonschema:"report id"`
	AssigneeID string `json:"assignee_id,omitempty" jsonschema:"employee to assign; defaults to you"`
}

type resolveReportInput struct {
	ID                 string `json:"id" jsonschema:"report id"`
	CompletionImageURL string `json:"completion_image_url" jsonschema:"reference to the after photo"`
	ResolutionNotes    string `json:"resolution_notes,omitempty" jsonschema:"what was done"`
}

type reopenReportInput struct {
	ID         string `json:"id" jsonschema:"report id"`
	AssigneeID string `json:"assignee_id,omitempty" jsonschema:"hand over to this employee instead of unassigning"`
}

func registerTools(server *sdkmcp.Server, t *tools) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_reports",
		Description: "List reports newest first, optionally filtered by status, priority and department",
	}, t.listReports)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get the full detail of one report",
	}, t.getReport)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "report_counts",
		Description: "Status totals, per-department volume, resolution times and the last seven days of activity",
	}, t.reportCounts)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "begin_work",
		Description: "Move a pending report to in-progress and assign it",
	}, t.beginWork)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "resolve_report",
		Description: "Resolve an in-progress report with completion evidence",
	}, t.resolveReport)
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reopen_report",
		Description: "Move an in-progress report back to pending",
	}, t.reopenReport)
}

func requireEmployee(ctx context.Context) (user.User, error) {
	u, ok := callerFromContext(ctx)
	if !ok || !u.IsEmployee() {
		return user.User{}, toolError(report.ErrForbidden)
	}
	return u, nil
}

func toCounts(c projection.Counts) countsView {
	return countsView{Total: c.Total, Pending: c.Pending, InProgress: c.InProgress, Resolved: c.Resolved}
}

func (t *tools) listReports(ctx context.Context, _ *sdkmcp.CallToolRequest, in listReportsInput) (*sdkmcp.CallToolResult, listReportsOutput, error) {
	if _, err := requireEmployee(ctx); err != nil {
		return nil, listReportsOutput{}, err
	}
	if in.Limit < 0 {
		return nil, listReportsOutput{}, toolError(&report.ValidationError{Fields: []string{"limit"}})
	}

	view := t.desk.View(projection.Filter{
		Statuses:   in.Statuses,
		Priorities: in.Priorities,
		Categories: in.Categories,
	})
	rows := view.Reports
	store.SortNewestFirst(rows)

	out := listReportsOutput{
		Matched:      len(rows),
		Counts:       toCounts(view.Counts),
		PendingWrite: len(view.Pending),
		Sync:         string(view.Status),
	}
	if in.Limit > 0 && len(rows) > in.Limit {
		rows = rows[:in.Limit]
	}
	out.Reports = make([]reportView, 0, len(rows))
	for _, r := range rows {
		out.Reports = append(out.Reports, toView(r, false))
	}
	return nil, out, nil
}

func (t *tools) getReport(ctx context.Context, _ *sdkmcp.CallToolRequest, in getReportInput) (*sdkmcp.CallToolResult, reportOutput, error) {
	if _, err := requireEmployee(ctx); err != nil {
		return nil, reportOutput{}, err
	}
	r, ok := t.desk.Get(in.ID)
	if !ok {
		return nil, reportOutput{}, toolError(report.ErrNotFound)
	}
	return nil, reportOutput{Report: toView(r, true), Sync: string(t.desk.View(projection.Filter{}).Status)}, nil
}

func (t *tools) reportCounts(ctx context.Context, _ *sdkmcp.CallToolRequest, _ reportCountsInput) (*sdkmcp.CallToolResult, reportCountsOutput, error) {
	if _, err := requireEmployee(ctx); err != nil {
		return nil, reportCountsOutput{}, err
	}
	view := t.desk.View(projection.Filter{})

	out := reportCountsOutput{
		Counts: toCounts(view.Counts),
		Sync:   string(view.Status),
	}
	for _, c := range projection.ByCategory(view.Reports) {
		out.ByCategory = append(out.ByCategory, categoryView{Category: string(c.Category), Total: c.Total, Resolved: c.Resolved})
	}
	res := projection.Resolution(view.Reports)
	out.Resolution = resolutionView{
		Rate:            res.Rate,
		MeanHours:       res.MeanHours,
		SameDay:         res.Buckets.SameDay,
		OneToTwoDays:    res.Buckets.OneToTwoDays,
		ThreeToFiveDays: res.Buckets.ThreeToFiveDays,
		WeekOrMore:      res.Buckets.WeekOrMore,
	}
	for _, d := range projection.WeeklyTrend(view.Reports, t.now()) {
		out.Week = append(out.Week, trendView{Date: d.Date.Format(time.DateOnly), Reported: d.Reported, Resolved: d.Resolved})
	}
	return nil, out, nil
}

func (t *tools) transition(ctx context.Context, id string, to report.Status, extra report.Extra) (*sdkmcp.CallToolResult, reportOutput, error) {
	u, err := requireEmployee(ctx)
	if err != nil {
		return nil, reportOutput{}, err
	}
	updated, err := t.desk.UpdateStatus(ctx, id, to, extra)
	if err != nil {
		t.logger.Info("triage transition rejected", "report_id", id, "to", to, "actor", u.ID, "error", err)
		return nil, reportOutput{}, toolError(err)
	}
	t.logger.Info("triage transition", "report_id", id, "status", updated.Status, "actor", u.ID)
	return nil, reportOutput{Report: toView(*updated, true), Sync: string(t.desk.View(projection.Filter{}).Status)}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (t *tools) beginWork(ctx context.Context, _ *sdkmcp.CallToolRequest, in beginWorkInput) (*sdkmcp.CallToolResult, reportOutput, error) {
	assignee := in.AssigneeID
	if assignee == "" {
		if u, ok := callerFromContext(ctx); ok {
			assignee = u.ID
		}
	}
	return t.transition(ctx, in.ID, report.StatusInProgress, report.Extra{AssignedEmployeeID: optional(assignee)})
}

func (t *tools) resolveReport(ctx context.Context, _ *sdkmcp.CallToolRequest, in resolveReportInput) (*sdkmcp.CallToolResult, reportOutput, error) {
	return t.transition(ctx, in.ID, report.StatusResolved, report.Extra{
		CompletionImageRef: optional(in.CompletionImageURL),
		ResolutionNotes:    optional(in.ResolutionNotes),
	})
}

func (t *tools) reopenReport(ctx context.Context, _ *sdkmcp.CallToolRequest, in reopenReportInput) (*sdkmcp.CallToolResult, reportOutput, error) {
	return t.transition(ctx, in.ID, report.StatusPending, report.Extra{AssignedEmployeeID: optional(in.AssigneeID)})
}
