/*
Package generic provides the domain-agnostic primitives of the leave engine.

PURPOSE:
  Everything in here is independent of leave categories, policies or
  employees. The timeoff package builds the leave domain on top of these
  types: quantities with units, calendar days, periods, errors, the
  process-wide version signal and the per-key idempotency guard.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 7.6 hours, 0.5 days)
  - TenantID / EntityID: Type-safe identifiers
  - Coercion: Boundary guards for numbers arriving from external records

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Type Safety: Strong typing for IDs prevents mixing tenant/employee IDs
  3. Explicit boundaries: float64 only enters through Coerce*, never silently

USAGE:
  h := generic.NewAmount(7.6, generic.UnitHours)
  d := h.Div(decimal.NewFromFloat(7.6)).WithUnit(generic.UnitDays)

SEE ALSO:
  - time.go: TimePoint (calendar day) helpers
  - period.go: Inclusive date ranges
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func Hours(value decimal.Decimal) Amount { return Amount{Value: value, Unit: UnitHours} }
func Days(value decimal.Decimal) Amount  { return Amount{Value: value, Unit: UnitDays} }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) WithUnit(u Unit) Amount       { return Amount{Value: a.Value, Unit: u} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Unit == b.Unit && a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + string(a.Unit)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EntityID string

// =============================================================================
// BOUNDARY COERCION - For numbers read from loosely typed external records
// =============================================================================

// Coercion describes a value that had to be replaced by a default.
type Coercion struct {
	Field    string
	Original float64
	Default  decimal.Decimal
}

// CoerceFloat converts an external float into a decimal. NaN and ±Inf are
// replaced by def and reported through the returned Coercion; the caller is
// expected to log it.
func CoerceFloat(field string, v float64, def decimal.Decimal) (decimal.Decimal, *Coercion) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def, &Coercion{Field: field, Original: v, Default: def}
	}
	return decimal.NewFromFloat(v), nil
}

// CoerceOptional is CoerceFloat for optional fields: a nil pointer is
// coerced to def as well.
func CoerceOptional(field string, v *float64, def decimal.Decimal) (decimal.Decimal, *Coercion) {
	if v == nil {
		return def, &Coercion{Field: field, Original: math.NaN(), Default: def}
	}
	return CoerceFloat(field, *v, def)
}
