package report

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle status of a report
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Priority represents triage urgency
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Category is the municipal department a report is routed to
type Category string

const (
	CategoryPublicWorks       Category = "Public Works"
	CategorySanitation        Category = "Sanitation"
	CategoryParksRecreation   Category = "Parks & Recreation"
	CategoryTransportation    Category = "Transportation"
	CategoryEnvironmental     Category = "Environmental"
	CategoryEmergencyServices Category = "Emergency Services"
)

// Categories lists every department category in display order.
var Categories = []Category{
	CategoryPublicWorks,
	CategorySanitation,
	CategoryParksRecreation,
	CategoryTransportation,
	CategoryEnvironmental,
	CategoryEmergencyServices,
}

// Valid reports whether c is one of the department categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// DefaultPriority returns the priority a new report in category c starts with.
func DefaultPriority(c Category) Priority {
	if c == CategoryEmergencyServices {
		return PriorityHigh
	}
	return PriorityMedium
}

// Report is a municipal-issue record
type Report struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Category           Category        `json:"category"`
	Status             Status          `json:"status"`
	Priority           Priority        `json:"priority"`
	ReporterID         string          `json:"user_id"`
	AssignedEmployeeID *string         `json:"assigned_employee_id,omitempty"`
	LocationAddress    *string         `json:"location_address,omitempty"`
	LocationLat        *float64        `json:"location_lat,omitempty"`
	LocationLng        *float64        `json:"location_lng,omitempty"`
	OriginalImageRef   *string         `json:"original_image_url,omitempty"`
	AudioRef           *string         `json:"audio_description_url,omitempty"`
	CompletionImageRef *string         `json:"completion_image_url,omitempty"`
	ResolutionNotes    *string         `json:"resolution_notes,omitempty"`
	AIAnalysis         json.RawMessage `json:"ai_analysis_data,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	Version            int64           `json:"version"`
}

// HasLocation reports whether both coordinates were captured.
func (r Report) HasLocation() bool {
	return r.LocationLat != nil && r.LocationLng != nil
}

// Draft is the citizen-supplied part of a new report.
type Draft struct {
	Title            string          `json:"title" validate:"required,max=200"`
	Description      string          `json:"description" validate:"required,max=5000"`
	Category         Category        `json:"category" validate:"required"`
	Priority         Priority        `json:"priority,omitempty"`
	LocationAddress  *string         `json:"location_address,omitempty" validate:"omitempty,max=500"`
	LocationLat      *float64        `json:"location_lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	LocationLng      *float64        `json:"location_lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	OriginalImageRef *string         `json:"original_image_url,omitempty"`
	AudioRef         *string         `json:"audio_description_url,omitempty"`
	AIAnalysis       json.RawMessage `json:"ai_analysis_data,omitempty" validate:"omitempty,max=65536"`
}

// NewRow is the row written on insert. The backing store assigns
// id, timestamps and version.
type NewRow struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         Category        `json:"category"`
	Status           Status          `json:"status"`
	Priority         Priority        `json:"priority"`
	ReporterID       string          `json:"user_id"`
	LocationAddress  *string         `json:"location_address,omitempty"`
	LocationLat      *float64        `json:"location_lat,omitempty"`
	LocationLng      *float64        `json:"location_lng,omitempty"`
	OriginalImageRef *string         `json:"original_image_url,omitempty"`
	AudioRef         *string         `json:"audio_description_url,omitempty"`
	AIAnalysis       json.RawMessage `json:"ai_analysis_data,omitempty"`
}

// NewRowFromDraft builds the insert row for a validated draft.
func NewRowFromDraft(d Draft, reporterID string) NewRow {
	priority := d.Priority
	if priority == "" {
		priority = DefaultPriority(d.Category)
	}
	return NewRow{
		Title:            d.Title,
		Description:      d.Description,
		Category:         d.Category,
		Status:           StatusPending,
		Priority:         priority,
		ReporterID:       reporterID,
		LocationAddress:  d.LocationAddress,
		LocationLat:      d.LocationLat,
		LocationLng:      d.LocationLng,
		OriginalImageRef: d.OriginalImageRef,
		AudioRef:         d.AudioRef,
		AIAnalysis:       d.AIAnalysis,
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status             *Status    `json:"status,omitempty"`
	AssignedEmployeeID *string    `json:"assigned_employee_id,omitempty"`
	ClearAssignee      bool       `json:"clear_assignee,omitempty"`
	CompletionImageRef *string    `json:"completion_image_url,omitempty"`
	ResolutionNotes    *string    `json:"resolution_notes,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.AssignedEmployeeID == nil && !p.ClearAssignee &&
		p.CompletionImageRef == nil && p.ResolutionNotes == nil && p.CompletedAt == nil
}

// Apply returns r with the patch applied.
func (p Patch) Apply(r Report, now time.Time) Report {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClearAssignee {
		r.AssignedEmployeeID = nil
	}
	if p.AssignedEmployeeID != nil {
		r.AssignedEmployeeID = p.AssignedEmployeeID
	}
	if p.CompletionImageRef != nil {
		r.CompletionImageRef = p.CompletionImageRef
	}
	if p.ResolutionNotes != nil {
		r.ResolutionNotes = p.ResolutionNotes
	}
	if p.CompletedAt != nil {
		r.CompletedAt = p.CompletedAt
	}
	r.UpdatedAt = now
	return r
}

// Query filters a select against the report table.
type Query struct {
	ReporterID string
	Statuses   []Status
	Ascending  bool
	Limit      int
}
