package timeoff

import (
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// DOMAIN ERRORS - Wrap generic sentinels with leave-specific context
// =============================================================================

// RequestShapeError rejects a malformed request before any computation:
// a half day on a multi-day range, an inverted range, an unknown category.
type RequestShapeError struct {
	Field  string
	Reason string
}

func (e *RequestShapeError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *RequestShapeError) Unwrap() error { return generic.ErrInvalidRequest }

// DuplicateDayError is returned when a request would take a day (or the
// same half of a day) that another active request already holds.
type DuplicateDayError struct {
	EmployeeID        generic.EntityID
	Date              generic.TimePoint
	Slot              PartialDayType
	ExistingRequestID string
}

func (e *DuplicateDayError) Error() string {
	return fmt.Sprintf("employee %s already has leave on %s (%s, request %s)",
		e.EmployeeID, e.Date, e.Slot, e.ExistingRequestID)
}

func (e *DuplicateDayError) Unwrap() error { return generic.ErrDuplicateDayConsumption }

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return generic.ErrInvalidTransition }

// InconsistencyError reports that a status write and its balance mutation
// did not complete together. Step names the half that failed.
type InconsistencyError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
	Step      string
	Err       error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("request %s %s->%s: %s failed: %v", e.RequestID, e.From, e.To, e.Step, e.Err)
}

func (e *InconsistencyError) Unwrap() []error { return []error{generic.ErrInconsistentState, e.Err} }

// NotEligibleError is returned when an employee cannot take leave from a
// category at all, e.g. casual staff against a paid category.
type NotEligibleError struct {
	EmployeeID generic.EntityID
	Category   Category
	Reason     string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("employee %s is not eligible for %s leave: %s", e.EmployeeID, e.Category, e.Reason)
}

func (e *NotEligibleError) Unwrap() error { return generic.ErrInvalidRequest }
