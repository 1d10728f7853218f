package report

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the report doesn't exist.
	ErrNotFound = errors.New("report not found")
	// ErrValidation indicates missing or malformed report fields.
	ErrValidation = errors.New("invalid report input")
	// ErrIllegalTransition indicates a status change outside the lifecycle edges.
	ErrIllegalTransition = errors.New("illegal report status transition")
	// ErrForbidden indicates the user type may not perform the mutation.
	ErrForbidden = errors.New("operation not permitted for user")
	// ErrConflict indicates the report changed status between read and write.
	ErrConflict = errors.New("report modified concurrently")
	// ErrSubscriptionLost indicates the change stream dropped.
	ErrSubscriptionLost = errors.New("change subscription lost")
	// ErrInvariant indicates a row violates the lifecycle invariants.
	ErrInvariant = errors.New("report invariant violated")
)

// ValidationError names the fields that failed validation. No write is
// attempted when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid report input: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IllegalTransitionError describes a rejected status change.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal report status transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// FetchError wraps a failed load. The previous snapshot is kept.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching reports: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the load.
func (e *FetchError) Retryable() bool { return true }

// WriteError wraps a failed or rejected insert/update.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s report %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s report: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Retryable is false when the collaborator rejected the write on its merits.
func (e *WriteError) Retryable() bool {
	return !errors.Is(e.Err, ErrValidation) &&
		!errors.Is(e.Err, ErrIllegalTransition) &&
		!errors.Is(e.Err, ErrForbidden) &&
		!errors.Is(e.Err, ErrNotFound)
}

// SubscriptionLostError is returned once reconnecting gives up.
type SubscriptionLostError struct {
	Attempts int
	Err      error
}

func (e *SubscriptionLostError) Error() string {
	return fmt.Sprintf("change subscription lost after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubscriptionLostError) Is(target error) bool {
	return target == ErrSubscriptionLost
}

func (e *SubscriptionLostError) Unwrap() error { return e.Err }
