/*
balance.go - Balance rows and the available-balance view

PURPOSE:
  LeaveBalance is the stored row per (employee, category). Aggregate
  combines a row with freshly computed accrual into the view every other
  part of the system reads.

INVARIANT:
  availableHours = openingBalanceHours + accruedHours + adjustedHours
                   - usedApprovedHours - usedPendingHours

  The value is never returned or stored negative unless the row or its
  policy carries the override flag. Used hours are kept as two separate
  fields everywhere; there is no combined "used" figure.

  Writes refuse to go negative. A read can still find a shortfall: a
  back-dated fraction cut shrinks accrual under hours already used, and a
  past reference date sees less accrual than today. Such a view reports
  availableHours 0 and the shortfall in overdrawnHours, so that
  availableHours - overdrawnHours always equals the formula above.

SPECIAL RESULTS:
  StatusNotApplicable: the policy excludes the employee (casual staff).
                       Eligible is false and no numbers are reported, so the
                       result cannot be read as "fully used".
  StatusNoPolicy:      the tenant has no policy for the category. The view
                       carries zero entitlement and says so explicitly.
  StatusOverdrawn:     used hours exceed the entitlement as of the date
                       asked for, without an override.
  Eligible=false with an EligibilityDate: waiting period not yet served.

SEE ALSO:
  - accrual.go: Accrued hours
  - mutation.go: The only way a stored row changes
*/
package timeoff

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE BALANCE ROW
// =============================================================================

type LeaveBalance struct {
	TenantID            generic.TenantID
	EmployeeID          generic.EntityID
	Category            Category
	OpeningBalanceHours decimal.Decimal
	AccruedHours        decimal.Decimal
	AdjustedHours       decimal.Decimal
	UsedApprovedHours   decimal.Decimal
	UsedPendingHours    decimal.Decimal
	LastCalculatedDate  generic.TimePoint

	// AllowNegative is the explicit override that lets this row go below
	// zero regardless of policy.
	AllowNegative bool

	// Version increments on every write and guards concurrent updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLeaveBalance returns a zero-entitlement row.
func NewLeaveBalance(tenant generic.TenantID, employee generic.EntityID, c Category) LeaveBalance {
	return LeaveBalance{
		TenantID:            tenant,
		EmployeeID:          employee,
		Category:            c,
		OpeningBalanceHours: decimal.Zero,
		AccruedHours:        decimal.Zero,
		AdjustedHours:       decimal.Zero,
		UsedApprovedHours:   decimal.Zero,
		UsedPendingHours:    decimal.Zero,
	}
}

// AvailableHours applies the balance invariant to the stored fields.
func (b LeaveBalance) AvailableHours() decimal.Decimal {
	return available(b.OpeningBalanceHours, b.AccruedHours, b.AdjustedHours, b.UsedApprovedHours, b.UsedPendingHours)
}

func available(opening, accrued, adjusted, approved, pending decimal.Decimal) decimal.Decimal {
	return opening.Add(accrued).Add(adjusted).Sub(approved).Sub(pending)
}

// Check verifies the row: used fields are never negative, and the
// available value is only negative with an override.
func (b LeaveBalance) Check(allowNegative bool) error {
	if b.UsedApprovedHours.IsNegative() {
		return b.negative("usedApprovedHours", b.UsedApprovedHours)
	}
	if b.UsedPendingHours.IsNegative() {
		return b.negative("usedPendingHours", b.UsedPendingHours)
	}
	if avail := b.AvailableHours(); avail.IsNegative() && !(allowNegative || b.AllowNegative) {
		return b.negative("availableHours", avail)
	}
	return nil
}

func (b LeaveBalance) negative(field string, v decimal.Decimal) error {
	return &generic.NegativeBalanceError{
		EntityID: b.EmployeeID,
		Category: string(b.Category),
		Field:    field,
		Value:    generic.Hours(v),
	}
}

// =============================================================================
// BALANCE VIEW
// =============================================================================

type BalanceStatus string

const (
	StatusOK            BalanceStatus = "ok"
	StatusNotApplicable BalanceStatus = "not_applicable"
	StatusNoPolicy      BalanceStatus = "no_policy"
	StatusOverdrawn     BalanceStatus = "overdrawn"
)

type BalanceView struct {
	Category            Category           `json:"category"`
	Status              BalanceStatus      `json:"status"`
	Eligible            bool               `json:"eligible"`
	EligibilityDate     *generic.TimePoint `json:"eligibilityDate,omitempty"`
	OpeningBalanceHours decimal.Decimal    `json:"openingBalanceHours"`
	AccruedHours        decimal.Decimal    `json:"accruedHours"`
	AdjustedHours       decimal.Decimal    `json:"adjustedHours"`
	UsedApprovedHours   decimal.Decimal    `json:"usedApprovedHours"`
	UsedPendingHours    decimal.Decimal    `json:"usedPendingHours"`
	AvailableHours      decimal.Decimal    `json:"availableHours"`
	AvailableDays       decimal.Decimal    `json:"availableDays"`
	OverdrawnHours      decimal.Decimal    `json:"overdrawnHours"`
	StandardHoursPerDay decimal.Decimal    `json:"standardHoursPerDay"`
	AsOf                generic.TimePoint  `json:"asOf"`
	Message             string             `json:"message,omitempty"`
}

// BalanceSheet is every category view of one employee.
type BalanceSheet struct {
	TenantID   generic.TenantID         `json:"tenantId"`
	EmployeeID generic.EntityID         `json:"employeeId"`
	AsOf       generic.TimePoint        `json:"asOf"`
	Version    uint64                   `json:"version"`
	Balances   map[Category]BalanceView `json:"balances"`
}

// Aggregate builds the view for one category. row may be nil when the
// balance was never initialised; policy is nil when none is configured.
// A shortfall is reported as StatusOverdrawn, never as an error.
func Aggregate(emp Employee, c Category, policy *LeavePolicy, row *LeaveBalance, asOf generic.TimePoint) (BalanceView, error) {
	view := BalanceView{
		Category:            c,
		AsOf:                asOf,
		StandardHoursPerDay: emp.HoursPerDayAt(asOf),
		OpeningBalanceHours: decimal.Zero,
		AccruedHours:        decimal.Zero,
		AdjustedHours:       decimal.Zero,
		UsedApprovedHours:   decimal.Zero,
		UsedPendingHours:    decimal.Zero,
		AvailableHours:      decimal.Zero,
		AvailableDays:       decimal.Zero,
		OverdrawnHours:      decimal.Zero,
	}

	if policy == nil {
		view.Status = StatusNoPolicy
		view.Message = "no policy configured for " + string(c)
		return view, nil
	}
	if !policy.Covers(emp.EmploymentType) {
		view.Status = StatusNotApplicable
		view.Message = string(emp.EmploymentType) + " employees do not accrue " + string(c) + " leave"
		return view, nil
	}

	acc, err := CalculateAccrual(AccrualInputFor(emp, *policy, asOf))
	if err != nil {
		return BalanceView{}, err
	}
	view.Status = StatusOK
	view.Eligible = acc.Eligible
	view.EligibilityDate = acc.EligibilityDate
	view.AccruedHours = acc.AccruedHours.Round(2)

	if row != nil {
		view.OpeningBalanceHours = row.OpeningBalanceHours
		view.AdjustedHours = row.AdjustedHours
		view.UsedApprovedHours = row.UsedApprovedHours
		view.UsedPendingHours = row.UsedPendingHours
	}
	view.AvailableHours = available(view.OpeningBalanceHours, view.AccruedHours, view.AdjustedHours,
		view.UsedApprovedHours, view.UsedPendingHours)

	allowNegative := policy.AllowNegative || (row != nil && row.AllowNegative)
	if !acc.Eligible {
		view.Message = "waiting period not served"
	}
	if view.AvailableHours.IsNegative() && !allowNegative {
		view.Status = StatusOverdrawn
		view.OverdrawnHours = view.AvailableHours.Neg()
		view.AvailableHours = decimal.Zero
		view.Message = "used hours exceed entitlement by " + view.OverdrawnHours.StringFixed(2) + " hours"
		return view, nil
	}
	if view.StandardHoursPerDay.IsPositive() {
		view.AvailableDays = view.AvailableHours.Div(view.StandardHoursPerDay).Round(2)
	}
	return view, nil
}
