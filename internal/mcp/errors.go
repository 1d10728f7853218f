package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpggio/civicsync/internal/domain/report"
)

// APIError represents an MCP tool error.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.RecoveryHint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes. Unknown errors map to nil.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var verr *report.ValidationError
	var terr *report.IllegalTransitionError
	switch {
	case errors.As(err, &terr):
		return &APIError{
			Code:         "ILLEGAL_TRANSITION",
			Message:      fmt.Sprintf("cannot move report from %s to %s", terr.From, terr.To),
			Details:      map[string]report.Status{"from": terr.From, "to": terr.To},
			RecoveryHint: "Check the lifecycle doc for allowed transitions",
		}
	case errors.As(err, &verr):
		return &APIError{
			Code:         "VALIDATION",
			Message:      "missing or invalid fields: " + strings.Join(verr.Fields, ", "),
			Details:      verr.Fields,
			RecoveryHint: "Supply the listed fields",
		}
	case errors.Is(err, report.ErrValidation):
		return &APIError{Code: "VALIDATION", Message: err.Error()}
	case errors.Is(err, report.ErrNotFound):
		return &APIError{Code: "NOT_FOUND", Message: "report not found", RecoveryHint: "Check ID spelling or list_reports"}
	case errors.Is(err, report.ErrConflict):
		return &APIError{Code: "CONFLICT", Message: "report modified by another staff member", RecoveryHint: "Reload with get_report and retry"}
	case errors.Is(err, report.ErrForbidden):
		return &APIError{Code: "FORBIDDEN", Message: "only employees may triage reports"}
	default:
		var werr *report.WriteError
		if errors.As(err, &werr) {
			hint := ""
			if werr.Retryable() {
				hint = "Retry once the sync status is live"
			}
			return &APIError{Code: "WRITE_FAILED", Message: werr.Error(), RecoveryHint: hint}
		}
		return nil
	}
}

// toolError returns the mapped error when there is one, else err.
func toolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
