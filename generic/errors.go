/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The timeoff package wraps these errors with additional context.

ERROR CATEGORIES:
  1. Missing context - tenant or employee not resolvable
  2. Missing configuration - no policy for a category
  3. Invalid request shape - bad ranges, half days on multi-day ranges
  4. Balance rules - insufficient balance, duplicate days
  5. Store errors - idempotency, concurrent modification, partial writes

USAGE:
  if errors.Is(err, generic.ErrEntityNotFound) {
      // 404
  }

SEE ALSO:
  - timeoff/errors.go: Domain-specific structured errors
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrTenantNotFound is returned when the tenant scope cannot be resolved.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrEntityNotFound is returned when a referenced employee doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPolicyNotFound is returned when no policy covers a category.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrRequestNotFound is returned when a leave request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrBalanceNotFound is returned when a balance row was never created.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidRequest is returned for malformed leave requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientBalance is returned when consumption exceeds available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNegativeBalance is returned when a stored balance would go below
	// zero without an override.
	ErrNegativeBalance = errors.New("negative balance without override")

	// ErrDuplicateDayConsumption is returned when the same day (or half day)
	// is requested twice.
	ErrDuplicateDayConsumption = errors.New("duplicate consumption on same day")

	// ErrDuplicateIdempotencyKey is returned when a mutation with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBalanceExists is returned when creating a balance row that exists.
	ErrBalanceExists = errors.New("balance already exists")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInconsistentState is returned when a status write and its balance
	// mutation did not complete together.
	ErrInconsistentState = errors.New("inconsistent state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EntityID  EntityID
	Category  string
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %s, requested %s",
		e.Category, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// NegativeBalanceError reports a balance field that would end up negative.
type NegativeBalanceError struct {
	EntityID EntityID
	Category string
	Field    string
	Value    Amount
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("%s %s would be negative (%s)", e.Category, e.Field, e.Value)
}

func (e *NegativeBalanceError) Unwrap() error {
	return ErrNegativeBalance
}

// ValidationErrorDetail describes one invalid input field.
type ValidationErrorDetail struct {
	Field   string
	Message string
}

func (e *ValidationErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationErrorDetail) Unwrap() error {
	return ErrInvalidRequest
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrDuplicateDayConsumption) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}
