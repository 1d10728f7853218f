package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/domain/user"
	"github.com/rpggio/civicsync/internal/evidence"
)

// Error codes carried in the JSON error body.
const (
	CodeValidation        = "validation"
	CodeIllegalTransition = "illegal_transition"
	CodeConflict          = "conflict"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeUnauthorized      = "unauthorized"
	CodeRateLimited       = "rate_limited"
	CodeBadRequest        = "bad_request"
	CodeTooLarge          = "too_large"
	CodeUnsupportedType   = "unsupported_type"
	CodeSubscriptionLost  = "subscription_lost"
	CodeInternal          = "internal"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Code    string        `json:"code"`
	Message string        `json:"error"`
	Fields  []string      `json:"fields,omitempty"`
	From    report.Status `json:"from,omitempty"`
	To      report.Status `json:"to,omitempty"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// MapError maps a domain error to an API error and HTTP status.
func MapError(err error) (*APIError, int) {
	var verr *report.ValidationError
	var terr *report.IllegalTransitionError
	switch {
	case errors.As(err, &verr):
		return &APIError{Code: CodeValidation, Message: err.Error(), Fields: verr.Fields}, http.StatusUnprocessableEntity
	case errors.As(err, &terr):
		return &APIError{Code: CodeIllegalTransition, Message: err.Error(), From: terr.From, To: terr.To}, http.StatusConflict
	case errors.Is(err, report.ErrValidation), errors.Is(err, user.ErrInvalidInput), errors.Is(err, evidence.ErrEmpty):
		return &APIError{Code: CodeValidation, Message: err.Error()}, http.StatusUnprocessableEntity
	case errors.Is(err, report.ErrConflict):
		return &APIError{Code: CodeConflict, Message: err.Error()}, http.StatusConflict
	case errors.Is(err, report.ErrNotFound), errors.Is(err, evidence.ErrInvalidKind):
		return &APIError{Code: CodeNotFound, Message: err.Error()}, http.StatusNotFound
	case errors.Is(err, report.ErrForbidden):
		return &APIError{Code: CodeForbidden, Message: err.Error()}, http.StatusForbidden
	case errors.Is(err, evidence.ErrTooLarge):
		return &APIError{Code: CodeTooLarge, Message: err.Error()}, http.StatusRequestEntityTooLarge
	case errors.Is(err, evidence.ErrUnsupportedType):
		return &APIError{Code: CodeUnsupportedType, Message: err.Error()}, http.StatusUnsupportedMediaType
	default:
		return &APIError{Code: CodeInternal, Message: "internal error"}, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, apiErr *APIError) {
	writeJSON(w, status, apiErr)
}
