/*
mutation.go - Balance mutation journal

PURPOSE:
  Every change to a LeaveBalance row is expressed as a BalanceMutation:
  signed deltas on the row's fields plus who and why. Mutations are
  appended to a journal keyed by idempotency key, so a replayed mutation
  is detected instead of being applied twice.

KINDS:
  init       row created (accrued hours seeded on first use)
  submit     request entered pending:      pending  +h
  approve    pending -> approved:          pending  -h, approved +h
  decline    pending -> declined:          pending  -h
  cancel     pending -> cancelled:         pending  -h
  recall     approved -> cancelled:        approved -h
  adjust     manual correction:            adjusted +/-h
  accrual    accrual refresh:              accrued  +/-h

  approve leaves availableHours unchanged; decline, cancel and recall
  restore exactly what submit took.

SEE ALSO:
  - balance.go: The row being mutated
  - request.go: Maps status transitions to mutations
*/
package timeoff

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

type MutationKind string

const (
	MutationInit    MutationKind = "init"
	MutationSubmit  MutationKind = "submit"
	MutationApprove MutationKind = "approve"
	MutationDecline MutationKind = "decline"
	MutationCancel  MutationKind = "cancel"
	MutationRecall  MutationKind = "recall"
	MutationAdjust  MutationKind = "adjust"
	MutationAccrual MutationKind = "accrual"
)

type BalanceMutation struct {
	ID             string
	IdempotencyKey string
	TenantID       generic.TenantID
	EmployeeID     generic.EntityID
	Category       Category
	Kind           MutationKind

	PendingDelta  decimal.Decimal
	ApprovedDelta decimal.Decimal
	AdjustedDelta decimal.Decimal
	AccruedDelta  decimal.Decimal

	// EffectiveDate moves LastCalculatedDate forward for accrual mutations.
	EffectiveDate generic.TimePoint

	// Override permits a negative available balance for this mutation.
	Override bool

	RequestID string
	Reason    string
	Actor     string
	CreatedAt time.Time
}

// Apply returns the row with the mutation's deltas added. The original row
// is not modified. The result is checked against the balance invariant.
func (m BalanceMutation) Apply(b LeaveBalance, allowNegative bool) (LeaveBalance, error) {
	if b.TenantID != m.TenantID || b.EmployeeID != m.EmployeeID || b.Category != m.Category {
		return b, fmt.Errorf("mutation %s targets %s/%s/%s, row is %s/%s/%s",
			m.ID, m.TenantID, m.EmployeeID, m.Category, b.TenantID, b.EmployeeID, b.Category)
	}

	next := b
	next.UsedPendingHours = b.UsedPendingHours.Add(m.PendingDelta)
	next.UsedApprovedHours = b.UsedApprovedHours.Add(m.ApprovedDelta)
	next.AdjustedHours = b.AdjustedHours.Add(m.AdjustedDelta)
	next.AccruedHours = b.AccruedHours.Add(m.AccruedDelta)
	if !m.EffectiveDate.IsZero() && m.EffectiveDate.After(b.LastCalculatedDate) {
		next.LastCalculatedDate = m.EffectiveDate
	}

	// Releasing hours can only make the balance healthier, so only the
	// used fields are checked for those kinds.
	releasing := m.Kind == MutationDecline || m.Kind == MutationCancel || m.Kind == MutationRecall || m.Kind == MutationApprove
	if err := next.Check(allowNegative || m.Override || releasing); err != nil {
		return b, err
	}
	if m.Override && next.AvailableHours().IsNegative() {
		next.AllowNegative = true
	}
	return next, nil
}

// IsNoop reports whether the mutation carries no deltas.
func (m BalanceMutation) IsNoop() bool {
	return m.PendingDelta.IsZero() && m.ApprovedDelta.IsZero() && m.AdjustedDelta.IsZero() && m.AccruedDelta.IsZero()
}

// transitionMutation returns the mutation paired with a request status
// change.
func transitionMutation(req LeaveRequest, to RequestStatus) BalanceMutation {
	m := BalanceMutation{
		IdempotencyKey: fmt.Sprintf("request:%s:%s", req.ID, to),
		TenantID:       req.TenantID,
		EmployeeID:     req.EmployeeID,
		Category:       req.Category,
		PendingDelta:   decimal.Zero,
		ApprovedDelta:  decimal.Zero,
		AdjustedDelta:  decimal.Zero,
		AccruedDelta:   decimal.Zero,
		RequestID:      req.ID,
	}
	h := req.ChargeableHours
	switch {
	case to == StatusPending:
		m.Kind = MutationSubmit
		m.PendingDelta = h
	case req.Status == StatusPending && to == StatusApproved:
		m.Kind = MutationApprove
		m.PendingDelta = h.Neg()
		m.ApprovedDelta = h
	case req.Status == StatusPending && to == StatusDeclined:
		m.Kind = MutationDecline
		m.PendingDelta = h.Neg()
	case req.Status == StatusPending && to == StatusCancelled:
		m.Kind = MutationCancel
		m.PendingDelta = h.Neg()
	case req.Status == StatusApproved && to == StatusCancelled:
		m.Kind = MutationRecall
		m.ApprovedDelta = h.Neg()
	}
	return m
}
