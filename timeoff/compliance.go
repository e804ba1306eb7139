/*
compliance.go - Policy checks against NES-style statutory minimums

PURPOSE:
  Evaluates a tenant's leave policies against fixed minimums and returns
  a list of issues. Issues are advisory: saving a policy never fails
  because of them.

SEVERITIES:
  error    below a statutory minimum, or a required policy is missing
  warning  ambiguous or incomplete configuration
  info     non-binding suggestion

MINIMUMS:
  annual       4 weeks x 38h = 152h per year, paid out on termination
  personal     10 days x 7.6h = 76h per year
  long service a waiting period must be configured
  all paid     casual employees are exempt; part-time is pro-rata of
               full-time by contracted hours

  An empty issue list means the configuration is fully compliant.
*/
package timeoff

import (
	"fmt"
	"sort"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

type Issue struct {
	PolicyID   string   `json:"policyId,omitempty"`
	PolicyName string   `json:"policyName"`
	Category   Category `json:"category,omitempty"`
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateCompliance checks policies against the minimums. The result is
// ordered by severity, keeping the input order within a severity.
func ValidateCompliance(policies []LeavePolicy) []Issue {
	issues := []Issue{}
	seen := make(map[Category]LeavePolicy)

	for _, p := range policies {
		if first, dup := seen[p.Category]; dup {
			issues = append(issues, issue(p, SeverityWarning, "duplicate_category",
				fmt.Sprintf("%q also configures %s leave; only %q is used", p.Name, p.Category, first.Name)))
			continue
		}
		seen[p.Category] = p
		issues = append(issues, checkPolicy(p)...)
	}

	for _, c := range []Category{CategoryAnnual, CategoryPersonal} {
		if _, ok := seen[c]; !ok {
			issues = append(issues, Issue{
				PolicyName: string(c),
				Category:   c,
				Severity:   SeverityError,
				Code:       "missing_policy",
				Message:    fmt.Sprintf("no %s leave policy configured", c),
			})
		}
	}
	if _, ok := seen[CategoryLongService]; !ok {
		issues = append(issues, Issue{
			PolicyName: string(CategoryLongService),
			Category:   CategoryLongService,
			Severity:   SeverityWarning,
			Code:       "missing_policy",
			Message:    "no long service leave policy configured",
		})
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Severity.rank() < issues[j].Severity.rank() })
	return issues
}

func checkPolicy(p LeavePolicy) []Issue {
	var out []Issue
	add := func(s Severity, code, msg string) { out = append(out, issue(p, s, code, msg)) }

	if p.AccrualRateHoursPerDay.IsNegative() {
		add(SeverityError, "negative_rate", "accrual rate is negative")
		return out
	}

	switch p.Category {
	case CategoryAnnual:
		if hours := p.AnnualHours(); hours.LessThan(MinimumAnnualLeaveHours) {
			add(SeverityError, "below_minimum", fmt.Sprintf(
				"annual leave accrues %sh per year, below the minimum of %s weeks (%sh)",
				hours.StringFixed(2), MinimumAnnualLeaveWeeks, MinimumAnnualLeaveHours.StringFixed(2)))
		}
		if !p.PayoutOnTermination {
			add(SeverityError, "payout_required", "untaken annual leave must be paid out on termination")
		}
	case CategoryPersonal:
		if hours := p.AnnualHours(); hours.LessThan(MinimumPersonalLeaveHours) {
			add(SeverityError, "below_minimum", fmt.Sprintf(
				"personal leave accrues %sh per year, below the minimum of %s days (%sh)",
				hours.StringFixed(2), MinimumPersonalLeaveDays, MinimumPersonalLeaveHours.StringFixed(2)))
		}
		if p.PayoutOnTermination {
			add(SeverityInfo, "payout_not_required", "personal leave is not normally paid out on termination")
		}
	case CategoryLongService:
		if p.WaitingPeriodMonths == 0 {
			add(SeverityWarning, "no_waiting_period", "long service leave has no eligibility waiting period")
		}
		if p.AccrualRateHoursPerDay.IsZero() {
			add(SeverityWarning, "zero_rate", "long service leave never accrues")
		}
	default:
		if p.AccrualRateHoursPerDay.IsZero() {
			add(SeverityInfo, "zero_rate", fmt.Sprintf("%s leave has no accrual and no statutory minimum", p.Category))
		}
	}

	if p.AccrualRateHoursPerDay.IsPositive() {
		if !p.ExcludeCasual {
			add(SeverityWarning, "casual_included", "casual employees are exempt from paid leave but are not excluded")
		}
		if !p.ProRata {
			add(SeverityWarning, "not_pro_rata", "part-time entitlement should be pro-rata of full-time by contracted hours")
		}
	}
	if !p.MinimumStandard && (p.Category == CategoryAnnual || p.Category == CategoryPersonal) {
		add(SeverityInfo, "not_flagged_minimum", "consider flagging this policy as the minimum-standard policy")
	}
	return out
}

func issue(p LeavePolicy, s Severity, code, msg string) Issue {
	return Issue{PolicyID: p.ID, PolicyName: p.Name, Category: p.Category, Severity: s, Code: code, Message: msg}
}
