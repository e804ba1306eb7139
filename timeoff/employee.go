package timeoff

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

// DefaultStandardHoursPerDay is a 38 hour week over five days.
var DefaultStandardHoursPerDay = decimal.RequireFromString("7.6")

// Tenant is the scope every record belongs to.
type Tenant struct {
	ID            generic.TenantID
	Name          string
	DefaultRegion string
}

// FractionChange records the employment fraction and standard hours in
// force from EffectiveFrom until the next change.
type FractionChange struct {
	EffectiveFrom       generic.TimePoint
	Fraction            decimal.Decimal
	StandardHoursPerDay decimal.Decimal
}

// Employee is the accrual-relevant view of a person. EmploymentFraction and
// StandardHoursPerDay are the current values; FractionHistory carries every
// value that was ever in force.
type Employee struct {
	ID                  generic.EntityID
	TenantID            generic.TenantID
	Name                string
	ServiceStartDate    generic.TimePoint
	EmploymentFraction  decimal.Decimal
	StandardHoursPerDay decimal.Decimal
	EmploymentType      EmploymentType
	RegionCode          string
	FractionHistory     []FractionChange
}

var one = decimal.NewFromInt(1)

// Validate checks the hard requirements on an employee record.
func (e Employee) Validate() error {
	if e.ID == "" {
		return &generic.ValidationErrorDetail{Field: "id", Message: "required"}
	}
	if e.TenantID == "" {
		return &generic.ValidationErrorDetail{Field: "tenantId", Message: "required"}
	}
	if e.ServiceStartDate.IsZero() {
		return &generic.ValidationErrorDetail{Field: "serviceStartDate", Message: "required"}
	}
	if !e.EmploymentType.Valid() {
		return &generic.ValidationErrorDetail{Field: "employmentType", Message: fmt.Sprintf("unknown type %q", e.EmploymentType)}
	}
	for _, h := range e.History() {
		if h.Fraction.IsNegative() || h.Fraction.GreaterThan(one) {
			return &generic.ValidationErrorDetail{Field: "employmentFraction", Message: "must be between 0 and 1"}
		}
		if !h.StandardHoursPerDay.IsPositive() {
			return &generic.ValidationErrorDetail{Field: "standardHoursPerDay", Message: "must be positive"}
		}
	}
	return nil
}

// History returns the fraction history sorted by EffectiveFrom. An employee
// without recorded history gets one entry from the service start date with
// the current values.
func (e Employee) History() []FractionChange {
	if len(e.FractionHistory) == 0 {
		return []FractionChange{{
			EffectiveFrom:       e.ServiceStartDate,
			Fraction:            e.EmploymentFraction,
			StandardHoursPerDay: e.StandardHoursPerDay,
		}}
	}
	h := make([]FractionChange, len(e.FractionHistory))
	copy(h, e.FractionHistory)
	sort.SliceStable(h, func(i, j int) bool { return h[i].EffectiveFrom.Before(h[j].EffectiveFrom) })
	return h
}

// InForce returns the history entry that applies on day. Days before the
// first recorded change use the earliest entry.
func (e Employee) InForce(day generic.TimePoint) FractionChange {
	return inForce(e.History(), day)
}

func inForce(history []FractionChange, day generic.TimePoint) FractionChange {
	current := history[0]
	for _, h := range history[1:] {
		if h.EffectiveFrom.After(day) {
			break
		}
		current = h
	}
	return current
}

// HoursPerDayAt returns the standard hours per day in force on day.
func (e Employee) HoursPerDayAt(day generic.TimePoint) decimal.Decimal {
	return e.InForce(day).StandardHoursPerDay
}

// ChangeFraction records a new fraction and standard hours from a date and
// updates the current values when the change is not in the future.
func (e *Employee) ChangeFraction(from generic.TimePoint, fraction, hoursPerDay decimal.Decimal, today generic.TimePoint) {
	history := e.History()
	kept := history[:0]
	for _, h := range history {
		if !h.EffectiveFrom.Equal(from) {
			kept = append(kept, h)
		}
	}
	e.FractionHistory = append(kept, FractionChange{EffectiveFrom: from, Fraction: fraction, StandardHoursPerDay: hoursPerDay})
	current := e.InForce(today)
	e.EmploymentFraction = current.Fraction
	e.StandardHoursPerDay = current.StandardHoursPerDay
}

// =============================================================================
// BOUNDARY INPUT - Loosely typed records from outside the engine
// =============================================================================

// EmployeeInput is an employee record as it arrives from an external
// system. Numeric fields are optional and may carry NaN; ToEmployee
// replaces such values with safe defaults and reports each replacement.
type EmployeeInput struct {
	ID                  string
	TenantID            string
	Name                string
	ServiceStartDate    string
	EmploymentFraction  *float64
	StandardHoursPerDay *float64
	EmploymentType      string
	RegionCode          string
	FractionHistory     []FractionChangeInput
}

type FractionChangeInput struct {
	EffectiveFrom       string
	Fraction            *float64
	StandardHoursPerDay *float64
}

// ToEmployee converts the input into a typed Employee. Coercions are
// returned, never dropped, so the caller can log them.
func (in EmployeeInput) ToEmployee() (Employee, []generic.Coercion, error) {
	var coercions []generic.Coercion
	note := func(c *generic.Coercion) {
		if c != nil {
			coercions = append(coercions, *c)
		}
	}

	start, err := generic.ParseDate(in.ServiceStartDate)
	if err != nil {
		return Employee{}, nil, &generic.ValidationErrorDetail{Field: "serviceStartDate", Message: err.Error()}
	}

	fraction, c := generic.CoerceOptional("employmentFraction", in.EmploymentFraction, decimal.Zero)
	note(c)
	hours, c := generic.CoerceOptional("standardHoursPerDay", in.StandardHoursPerDay, DefaultStandardHoursPerDay)
	note(c)
	if !hours.IsPositive() {
		note(&generic.Coercion{Field: "standardHoursPerDay", Original: hours.InexactFloat64(), Default: DefaultStandardHoursPerDay})
		hours = DefaultStandardHoursPerDay
	}

	empType := EmploymentType(in.EmploymentType)
	if empType == "" {
		empType = FullTime
	}

	emp := Employee{
		ID:                  generic.EntityID(in.ID),
		TenantID:            generic.TenantID(in.TenantID),
		Name:                in.Name,
		ServiceStartDate:    start,
		EmploymentFraction:  fraction,
		StandardHoursPerDay: hours,
		EmploymentType:      empType,
		RegionCode:          in.RegionCode,
	}

	for i, h := range in.FractionHistory {
		from, err := generic.ParseDate(h.EffectiveFrom)
		if err != nil {
			return Employee{}, nil, &generic.ValidationErrorDetail{
				Field: fmt.Sprintf("fractionHistory[%d].effectiveFrom", i), Message: err.Error(),
			}
		}
		f, c := generic.CoerceOptional(fmt.Sprintf("fractionHistory[%d].fraction", i), h.Fraction, decimal.Zero)
		note(c)
		hpd, c := generic.CoerceOptional(fmt.Sprintf("fractionHistory[%d].standardHoursPerDay", i), h.StandardHoursPerDay, hours)
		note(c)
		emp.FractionHistory = append(emp.FractionHistory, FractionChange{EffectiveFrom: from, Fraction: f, StandardHoursPerDay: hpd})
	}

	if err := emp.Validate(); err != nil {
		return Employee{}, coercions, err
	}
	return emp, coercions, nil
}
