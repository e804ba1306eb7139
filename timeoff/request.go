/*
request.go - Leave request lifecycle with paired balance mutations

STATE MACHINE:
  pending  -> approved | declined | cancelled
  approved -> cancelled   (recall)
  declined, cancelled: terminal

  Every transition is paired with a balance mutation (see mutation.go).
  The status write and the mutation run in one store transaction. If one
  half fails after the other succeeded the error is an InconsistencyError,
  logged at error level and returned to the caller; it is never ignored.

SUBMISSION:
  1. Shape checks (range, half day on a single day) before any lookup
  2. Employee, category policy and eligibility
  3. Holidays for the employee's region, chargeable days and hours
  4. Day book against the employee's active requests
  5. Lazy balance initialisation, accrual refresh, available-balance check
  6. Request row + submit mutation in one transaction

SEE ALSO:
  - mutation.go: transitionMutation
  - daybook.go: Overlap rules
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID         string
	TenantID   generic.TenantID
	EmployeeID generic.EntityID
	Category   Category
	StartDate  generic.TimePoint
	EndDate    generic.TimePoint
	PartialDay PartialDayType
	Status     RequestStatus

	// TotalChargeableDays and ChargeableHours are cached at submission and
	// drive every later balance mutation. Days is the per-day breakdown.
	TotalChargeableDays decimal.Decimal
	ChargeableHours     decimal.Decimal
	Days                []DayCharge

	Reason      string
	SubmittedAt time.Time
	DecidedAt   *time.Time
	DecidedBy   string
	Note        string
}

func (r LeaveRequest) Period() generic.Period {
	return generic.Period{Start: r.StartDate, End: r.EndDate}
}

// StatusChange carries the audit fields written with a status update.
type StatusChange struct {
	At    time.Time
	Actor string
	Note  string
}

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusDeclined, StatusCancelled},
	StatusApproved: {StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubmitInput is a new leave request.
type SubmitInput struct {
	TenantID   generic.TenantID
	EmployeeID generic.EntityID
	Category   Category
	StartDate  generic.TimePoint
	EndDate    generic.TimePoint
	PartialDay PartialDayType
	Reason     string
	Actor      string
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitRequest validates and records a new pending request, reserving its
// hours in usedPendingHours.
func (e *Engine) SubmitRequest(ctx context.Context, in SubmitInput) (LeaveRequest, error) {
	period := generic.Period{Start: in.StartDate, End: in.EndDate}
	if err := ValidateShape(period, in.PartialDay); err != nil {
		return LeaveRequest{}, err
	}
	if !IsRegistered(in.Category) {
		return LeaveRequest{}, &RequestShapeError{Field: "category", Reason: fmt.Sprintf("unknown leave category %q", in.Category)}
	}

	emp, policies, err := e.loadContext(ctx, in.TenantID, in.EmployeeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	policy := policies.For(in.Category)
	if policy == nil {
		return LeaveRequest{}, fmt.Errorf("%s leave for tenant %s: %w", in.Category, in.TenantID, generic.ErrPolicyNotFound)
	}
	if !policy.Covers(emp.EmploymentType) {
		return LeaveRequest{}, &NotEligibleError{EmployeeID: emp.ID, Category: in.Category, Reason: "employment type is excluded by policy"}
	}

	charge, err := e.chargeable(ctx, in.TenantID, emp.RegionCode, period, in.PartialDay)
	if err != nil {
		return LeaveRequest{}, err
	}
	if charge.ChargeableDays.IsZero() {
		return LeaveRequest{}, &RequestShapeError{Field: "endDate", Reason: "range contains no chargeable days"}
	}

	req := LeaveRequest{
		ID:                  e.newID(),
		TenantID:            in.TenantID,
		EmployeeID:          in.EmployeeID,
		Category:            in.Category,
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		PartialDay:          charge.PartialDay,
		Status:              StatusPending,
		TotalChargeableDays: charge.ChargeableDays,
		ChargeableHours:     charge.Hours(emp.HoursPerDayAt).Round(2),
		Days:                charge.Days,
		Reason:              in.Reason,
		SubmittedAt:         e.now(),
	}

	if _, err := e.InitializeBalances(ctx, in.TenantID, in.EmployeeID); err != nil {
		return LeaveRequest{}, err
	}

	today := e.today()
	err = e.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.ListRequests(ctx, in.TenantID, in.EmployeeID)
		if err != nil {
			return err
		}
		book, err := NewDayBookFromRequests(in.EmployeeID, existing)
		if err != nil {
			return err
		}
		if err := book.Check(req.Days); err != nil {
			return err
		}

		if err := e.refreshAccrualTx(ctx, tx, emp, *policy, today, in.Actor); err != nil {
			return err
		}
		row, err := tx.GetBalance(ctx, in.TenantID, in.EmployeeID, in.Category)
		if err != nil {
			return err
		}
		view, err := Aggregate(emp, in.Category, policy, &row, today)
		if err != nil {
			return err
		}
		if !view.Eligible {
			return &NotEligibleError{EmployeeID: emp.ID, Category: in.Category, Reason: "waiting period not served"}
		}
		allowNegative := policy.AllowNegative || row.AllowNegative
		if req.ChargeableHours.GreaterThan(view.AvailableHours) && !allowNegative {
			return &generic.InsufficientBalanceError{
				EntityID:  emp.ID,
				Category:  string(in.Category),
				Available: generic.Hours(view.AvailableHours),
				Requested: generic.Hours(req.ChargeableHours),
			}
		}

		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		m := transitionMutation(req, StatusPending)
		m.Actor = in.Actor
		m.Reason = in.Reason
		return e.applyMutation(ctx, tx, m, allowNegative)
	})
	if err != nil {
		return LeaveRequest{}, err
	}

	e.log.Info().
		Str("tenant_id", string(req.TenantID)).
		Str("employee_id", string(req.EmployeeID)).
		Str("request_id", req.ID).
		Str("category", string(req.Category)).
		Str("hours", req.ChargeableHours.String()).
		Msg("leave request submitted")
	e.bump(req.TenantID, req.EmployeeID, req.Category, "request_submitted")
	return req, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (e *Engine) ApproveRequest(ctx context.Context, tenant generic.TenantID, id, actor string) (LeaveRequest, error) {
	return e.transition(ctx, tenant, id, StatusApproved, actor, "")
}

func (e *Engine) DeclineRequest(ctx context.Context, tenant generic.TenantID, id, actor, note string) (LeaveRequest, error) {
	return e.transition(ctx, tenant, id, StatusDeclined, actor, note)
}

// CancelRequest cancels a pending request or recalls an approved one.
func (e *Engine) CancelRequest(ctx context.Context, tenant generic.TenantID, id, actor, note string) (LeaveRequest, error) {
	return e.transition(ctx, tenant, id, StatusCancelled, actor, note)
}

func (e *Engine) transition(ctx context.Context, tenant generic.TenantID, id string, to RequestStatus, actor, note string) (LeaveRequest, error) {
	var updated LeaveRequest
	var from RequestStatus

	err := e.store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, tenant, id)
		if err != nil {
			return err
		}
		from = req.Status
		if !CanTransition(req.Status, to) {
			return &InvalidTransitionError{RequestID: id, From: req.Status, To: to}
		}

		change := StatusChange{At: e.now(), Actor: actor, Note: note}
		if err := tx.UpdateRequestStatus(ctx, tenant, id, req.Status, to, change); err != nil {
			return err
		}

		m := transitionMutation(req, to)
		m.Actor = actor
		m.Reason = note
		if err := e.applyMutation(ctx, tx, m, true); err != nil {
			return &InconsistencyError{RequestID: id, From: req.Status, To: to, Step: "balance mutation", Err: err}
		}

		updated = req
		updated.Status = to
		updated.DecidedAt = &change.At
		updated.DecidedBy = actor
		updated.Note = note
		return nil
	})

	var inconsistent *InconsistencyError
	if errors.As(err, &inconsistent) {
		e.log.Error().Err(err).
			Str("tenant_id", string(tenant)).
			Str("request_id", id).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("status write and balance mutation diverged; transaction rolled back")
	}
	if err != nil {
		return LeaveRequest{}, err
	}

	e.log.Info().
		Str("tenant_id", string(tenant)).
		Str("request_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("leave request status changed")
	e.bump(tenant, updated.EmployeeID, updated.Category, "request_"+string(to))
	return updated, nil
}

// =============================================================================
// READ + REVALIDATE
// =============================================================================

func (e *Engine) GetRequest(ctx context.Context, tenant generic.TenantID, id string) (LeaveRequest, error) {
	return e.store.GetRequest(ctx, tenant, id)
}

func (e *Engine) ListRequests(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]LeaveRequest, error) {
	return e.store.ListRequests(ctx, tenant, employee)
}

// RequestValidation compares a request's cached chargeable days with a
// fresh calculation against the current holiday calendar.
type RequestValidation struct {
	Request        LeaveRequest      `json:"-"`
	CachedDays     decimal.Decimal   `json:"cachedDays"`
	CurrentDays    decimal.Decimal   `json:"currentDays"`
	CachedHours    decimal.Decimal   `json:"cachedHours"`
	CurrentHours   decimal.Decimal   `json:"currentHours"`
	Drift          decimal.Decimal   `json:"drift"`
	UpToDate       bool              `json:"upToDate"`
	HolidayDetails []ResolvedHoliday `json:"holidays"`
}

// RevalidateRequest recomputes a request's chargeable days. The stored
// request is not changed; a non-zero Drift tells the caller the cached
// figure no longer matches the calendar.
func (e *Engine) RevalidateRequest(ctx context.Context, tenant generic.TenantID, id string) (RequestValidation, error) {
	req, err := e.store.GetRequest(ctx, tenant, id)
	if err != nil {
		return RequestValidation{}, err
	}
	emp, err := e.store.GetEmployee(ctx, tenant, req.EmployeeID)
	if err != nil {
		return RequestValidation{}, err
	}
	holidays, err := e.holidays.Resolve(ctx, tenant, emp.RegionCode, req.Period())
	if err != nil {
		return RequestValidation{}, err
	}
	charge, err := RecountChargeableDays(req.Period(), holidays, req.PartialDay)
	if err != nil {
		return RequestValidation{}, err
	}
	hours := charge.Hours(emp.HoursPerDayAt).Round(2)
	drift := charge.ChargeableDays.Sub(req.TotalChargeableDays)
	v := RequestValidation{
		Request:        req,
		CachedDays:     req.TotalChargeableDays,
		CurrentDays:    charge.ChargeableDays,
		CachedHours:    req.ChargeableHours,
		CurrentHours:   hours,
		Drift:          drift,
		UpToDate:       drift.IsZero() && hours.Equal(req.ChargeableHours),
		HolidayDetails: charge.HolidayDetails,
	}
	if !v.UpToDate {
		e.log.Warn().
			Str("tenant_id", string(tenant)).
			Str("request_id", id).
			Str("cached_days", req.TotalChargeableDays.String()).
			Str("current_days", charge.ChargeableDays.String()).
			Msg("request chargeable days drifted from calendar")
	}
	return v, nil
}
