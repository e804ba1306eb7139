/*
policy.go - Leave policies and NES-style presets

PURPOSE:
  A LeavePolicy is the tenant's configuration for one leave category: how
  fast it accrues, whether it is a minimum-standard policy, whether it is
  paid out on termination, and the eligibility waiting period.

ACCRUAL RATE:
  Rates are hours per calendar day of service at 1.0 FTE. Policies are
  usually written as hours per year; RateFromAnnualHours converts using a
  365 day year and AnnualHours converts back, rounded to cents so the
  round trip is stable.

PRESETS:
  NESAnnualPolicy:      4 weeks per year at 38h/week (152h), paid out
  NESPersonalPolicy:    10 days per year at 7.6h/day (76h), not paid out
  NESLongServicePolicy: 8.6667 weeks per 10 years, 10 year waiting period

EXAMPLE:
  p := timeoff.NESAnnualPolicy("t1")
  p.AnnualHours()   // 152.00

SEE ALSO:
  - compliance.go: Checks policies against the statutory minimums
  - factory/policy.go: JSON policy definitions
*/
package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STATUTORY CONSTANTS
// =============================================================================

var (
	DaysPerYear              = decimal.NewFromInt(365)
	StandardHoursPerWeek     = decimal.NewFromInt(38)
	StandardDaysPerWeek      = decimal.NewFromInt(5)
	MinimumAnnualLeaveWeeks  = decimal.NewFromInt(4)
	MinimumPersonalLeaveDays = decimal.NewFromInt(10)

	// MinimumAnnualLeaveHours is 4 weeks at 38 hours.
	MinimumAnnualLeaveHours = MinimumAnnualLeaveWeeks.Mul(StandardHoursPerWeek)

	// MinimumPersonalLeaveHours is 10 days at 7.6 hours.
	MinimumPersonalLeaveHours = MinimumPersonalLeaveDays.Mul(StandardHoursPerWeek.Div(StandardDaysPerWeek))
)

// =============================================================================
// LEAVE POLICY
// =============================================================================

type LeavePolicy struct {
	ID       string
	TenantID generic.TenantID
	Name     string
	Category Category

	// AccrualRateHoursPerDay is hours earned per calendar day of service
	// at 1.0 FTE.
	AccrualRateHoursPerDay decimal.Decimal

	MinimumStandard     bool
	PayoutOnTermination bool
	WaitingPeriodMonths int

	// ProRata scales accrual by the employment fraction in force. When
	// false every employee accrues at the full-time rate.
	ProRata bool

	// ExcludeCasual removes casual employees from the policy entirely.
	ExcludeCasual bool

	// AllowNegative lets the available balance go below zero.
	AllowNegative bool
}

// RateFromAnnualHours converts an hours-per-year entitlement into a daily
// rate.
func RateFromAnnualHours(hours decimal.Decimal) decimal.Decimal {
	return hours.Div(DaysPerYear)
}

// AnnualHours is the full-time entitlement per year implied by the rate.
func (p LeavePolicy) AnnualHours() decimal.Decimal {
	return p.AccrualRateHoursPerDay.Mul(DaysPerYear).Round(2)
}

// Validate checks the structural requirements of a policy.
func (p LeavePolicy) Validate() error {
	if p.TenantID == "" {
		return &generic.ValidationErrorDetail{Field: "tenantId", Message: "required"}
	}
	if p.Name == "" {
		return &generic.ValidationErrorDetail{Field: "name", Message: "required"}
	}
	if !IsRegistered(p.Category) {
		return &generic.ValidationErrorDetail{Field: "category", Message: fmt.Sprintf("unknown category %q", p.Category)}
	}
	if p.AccrualRateHoursPerDay.IsNegative() {
		return &generic.ValidationErrorDetail{Field: "accrualRateHoursPerDay", Message: "must not be negative"}
	}
	if p.WaitingPeriodMonths < 0 {
		return &generic.ValidationErrorDetail{Field: "waitingPeriodMonths", Message: "must not be negative"}
	}
	return nil
}

// Covers reports whether the policy applies to the employment type.
func (p LeavePolicy) Covers(t EmploymentType) bool {
	return !(p.ExcludeCasual && t == Casual)
}

// PolicySet indexes a tenant's policies by category. When a tenant has more
// than one policy for a category the first one wins.
type PolicySet map[Category]LeavePolicy

func NewPolicySet(policies []LeavePolicy) PolicySet {
	set := make(PolicySet, len(policies))
	for _, p := range policies {
		if _, ok := set[p.Category]; !ok {
			set[p.Category] = p
		}
	}
	return set
}

// For returns the policy for c, or nil when none is configured.
func (s PolicySet) For(c Category) *LeavePolicy {
	p, ok := s[c]
	if !ok {
		return nil
	}
	return &p
}

// =============================================================================
// NES-STYLE PRESETS
// =============================================================================

func NESAnnualPolicy(tenant generic.TenantID) LeavePolicy {
	return LeavePolicy{
		ID:                     string(tenant) + "-annual",
		TenantID:               tenant,
		Name:                   "Annual Leave",
		Category:               CategoryAnnual,
		AccrualRateHoursPerDay: RateFromAnnualHours(MinimumAnnualLeaveHours),
		MinimumStandard:        true,
		PayoutOnTermination:    true,
		ProRata:                true,
		ExcludeCasual:          true,
	}
}

func NESPersonalPolicy(tenant generic.TenantID) LeavePolicy {
	return LeavePolicy{
		ID:                     string(tenant) + "-personal",
		TenantID:               tenant,
		Name:                   "Personal/Carer's Leave",
		Category:               CategoryPersonal,
		AccrualRateHoursPerDay: RateFromAnnualHours(MinimumPersonalLeaveHours),
		MinimumStandard:        true,
		ProRata:                true,
		ExcludeCasual:          true,
	}
}

// NESLongServicePolicy accrues 8.6667 weeks over 10 years of service,
// available once the employee has completed the waiting period.
func NESLongServicePolicy(tenant generic.TenantID) LeavePolicy {
	tenYears := StandardHoursPerWeek.Mul(decimal.RequireFromString("8.6667"))
	return LeavePolicy{
		ID:                     string(tenant) + "-long-service",
		TenantID:               tenant,
		Name:                   "Long Service Leave",
		Category:               CategoryLongService,
		AccrualRateHoursPerDay: RateFromAnnualHours(tenYears.Div(decimal.NewFromInt(10))),
		MinimumStandard:        true,
		PayoutOnTermination:    true,
		WaitingPeriodMonths:    120,
		ProRata:                true,
		ExcludeCasual:          true,
	}
}

// NESPolicies returns the three presets for a tenant.
func NESPolicies(tenant generic.TenantID) []LeavePolicy {
	return []LeavePolicy{NESAnnualPolicy(tenant), NESPersonalPolicy(tenant), NESLongServicePolicy(tenant)}
}
