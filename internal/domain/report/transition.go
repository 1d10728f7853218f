package report

import (
	"fmt"
	"strings"
	"time"
)

// Extra carries the fields that travel with a status change.
type Extra struct {
	AssignedEmployeeID *string `json:"assigned_employee_id,omitempty"`
	CompletionImageRef *string `json:"completion_image_url,omitempty"`
	ResolutionNotes    *string `json:"resolution_notes,omitempty"`
}

// ValidateTransition checks that from -> to is a lifecycle edge.
func ValidateTransition(from, to Status) error {
	switch from {
	case StatusPending:
		if to == StatusInProgress {
			return nil
		}
	case StatusInProgress:
		if to == StatusResolved || to == StatusPending {
			return nil
		}
	}
	return &IllegalTransitionError{From: from, To: to}
}

// PlanTransition validates moving current to status to and returns the patch
// that applies the transition's side effects in a single write.
func PlanTransition(current Report, to Status, extra Extra, actorID string, now time.Time) (Patch, error) {
	if err := ValidateTransition(current.Status, to); err != nil {
		return Patch{}, err
	}

	target := to
	patch := Patch{Status: &target}

	switch to {
	case StatusInProgress:
		assignee := strings.TrimSpace(actorID)
		if explicit := trimOptional(extra.AssignedEmployeeID); explicit != nil {
			assignee = *explicit
		}
		if assignee == "" {
			return Patch{}, &ValidationError{Fields: []string{"assigned_employee_id"}}
		}
		patch.AssignedEmployeeID = &assignee

	case StatusResolved:
		evidence := trimOptional(extra.CompletionImageRef)
		if evidence == nil {
			return Patch{}, &ValidationError{Fields: []string{"completion_image_url"}}
		}
		patch.CompletionImageRef = evidence
		patch.ResolutionNotes = sanitizeOptional(extra.ResolutionNotes)
		completed := now.UTC()
		patch.CompletedAt = &completed

	case StatusPending:
		if reassigned := trimOptional(extra.AssignedEmployeeID); reassigned != nil {
			patch.AssignedEmployeeID = reassigned
		} else {
			patch.ClearAssignee = true
		}
	}

	return patch, nil
}

// Replan rebuilds a client-supplied patch from the stored row. Only fields
// that belong to the patch's edge are accepted; the side effects come from
// PlanTransition, with completed_at stamped at now.
func Replan(current Report, patch Patch, now time.Time) (Patch, error) {
	if patch.Status == nil {
		return Patch{}, &ValidationError{Fields: []string{"status"}}
	}
	to := *patch.Status
	if err := ValidateTransition(current.Status, to); err != nil {
		return Patch{}, err
	}

	var stray []string
	switch to {
	case StatusInProgress, StatusPending:
		if patch.CompletionImageRef != nil {
			stray = append(stray, "completion_image_url")
		}
		if patch.ResolutionNotes != nil {
			stray = append(stray, "resolution_notes")
		}
		if patch.CompletedAt != nil {
			stray = append(stray, "completed_at")
		}
		if to == StatusInProgress && patch.ClearAssignee {
			stray = append(stray, "clear_assignee")
		}
	case StatusResolved:
		if patch.AssignedEmployeeID != nil {
			stray = append(stray, "assigned_employee_id")
		}
		if patch.ClearAssignee {
			stray = append(stray, "clear_assignee")
		}
	}
	if len(stray) > 0 {
		return Patch{}, &ValidationError{Fields: stray}
	}

	return PlanTransition(current, to, Extra{
		AssignedEmployeeID: patch.AssignedEmployeeID,
		CompletionImageRef: patch.CompletionImageRef,
		ResolutionNotes:    patch.ResolutionNotes,
	}, "", now)
}

// CheckInvariants reports the first lifecycle invariant r violates.
func CheckInvariants(r Report) error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, r.Status)
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvariant, r.Priority)
	}
	switch r.Status {
	case StatusInProgress:
		if r.AssignedEmployeeID == nil {
			return fmt.Errorf("%w: in-progress report %s has no assignee", ErrInvariant, r.ID)
		}
	case StatusResolved:
		if r.CompletedAt == nil {
			return fmt.Errorf("%w: resolved report %s has no completed_at", ErrInvariant, r.ID)
		}
		if r.CompletionImageRef == nil || strings.TrimSpace(*r.CompletionImageRef) == "" {
			return fmt.Errorf("%w: resolved report %s has no completion evidence", ErrInvariant, r.ID)
		}
		return nil
	}
	if r.CompletedAt != nil {
		return fmt.Errorf("%w: %s report %s has completed_at", ErrInvariant, r.Status, r.ID)
	}
	if r.CompletionImageRef != nil {
		return fmt.Errorf("%w: %s report %s has completion evidence", ErrInvariant, r.Status, r.ID)
	}
	return nil
}
