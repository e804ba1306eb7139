/*
chargeable.go - Chargeable-day calculation

PURPOSE:
  Decides how much of a date range counts against a balance. A calendar
  day is chargeable when it is a weekday and not an observed holiday.

RULES:
  - The range is inclusive and enumerated day by day, so a range crossing
    December 31 is one continuous count.
  - A holiday that falls on a weekend counts as a weekend only; it is not
    listed in HolidayDetails and not counted twice.
  - A half-day marker (AM or PM) is only valid on a single-day range whose
    day is chargeable; the result is then 0.5. A half day on a weekend or
    holiday is rejected, never silently zeroed. Recounting a stored
    request is the exception: the calendar may have changed under it, so
    the recount reports 0 and lets the caller flag the drift.
  - Combining an AM and a PM request on the same date is the caller's job
    (see daybook.go); together they make exactly 1.0 day.

EXAMPLE:
  p, _ := generic.NewPeriod(date(2024, 12, 20), date(2025, 1, 5))
  res, err := timeoff.CalculateChargeableDays(p, holidays, timeoff.FullDay)
  res.ChargeableDays   // weekdays minus Dec 25, Dec 26, Jan 1

SEE ALSO:
  - holiday.go: Produces the holiday list
  - daybook.go: Per-employee occupancy of days and half days
*/
package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// DayCharge is one chargeable day of a request and the share of it taken.
type DayCharge struct {
	Date     generic.TimePoint `json:"date"`
	Slot     PartialDayType    `json:"slot"`
	Fraction decimal.Decimal   `json:"fraction"`
}

// ChargeableDays is the breakdown of a range.
type ChargeableDays struct {
	Period            generic.Period    `json:"-"`
	PartialDay        PartialDayType    `json:"partialDayType"`
	TotalCalendarDays int               `json:"totalCalendarDays"`
	WeekendCount      int               `json:"weekendCount"`
	HolidayCount      int               `json:"holidayCount"`
	ChargeableDays    decimal.Decimal   `json:"chargeableDays"`
	HolidayDetails    []ResolvedHoliday `json:"holidays"`
	Days              []DayCharge       `json:"days"`
}

// Hours converts the chargeable days into hours using the standard hours
// per day in force on each date.
func (c ChargeableDays) Hours(hoursPerDay func(generic.TimePoint) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range c.Days {
		total = total.Add(d.Fraction.Mul(hoursPerDay(d.Date)))
	}
	return total
}

// ValidateShape rejects request shapes the calculator must never see.
func ValidateShape(period generic.Period, partial PartialDayType) error {
	if err := period.Validate(); err != nil {
		return &RequestShapeError{Field: "endDate", Reason: "end date is before start date or a date is missing"}
	}
	if !partial.Valid() {
		return &RequestShapeError{Field: "partialDayType", Reason: fmt.Sprintf("unknown partial day type %q", partial)}
	}
	if partial.IsHalf() && !period.IsSingleDay() {
		return &RequestShapeError{Field: "partialDayType", Reason: "half days are only valid on single-day requests"}
	}
	return nil
}

// CalculateChargeableDays counts the chargeable days of period given the
// resolved holidays.
func CalculateChargeableDays(period generic.Period, holidays []ResolvedHoliday, partial PartialDayType) (ChargeableDays, error) {
	res, err := RecountChargeableDays(period, holidays, partial)
	if err != nil {
		return ChargeableDays{}, err
	}
	if partial.IsHalf() && len(res.Days) == 0 {
		return ChargeableDays{}, &RequestShapeError{
			Field:  "partialDayType",
			Reason: fmt.Sprintf("%s is not a working day", period.Start),
		}
	}
	return res, nil
}

// RecountChargeableDays counts an already accepted range against the
// current calendar. A half day that now falls on a holiday or weekend
// counts 0 instead of failing.
func RecountChargeableDays(period generic.Period, holidays []ResolvedHoliday, partial PartialDayType) (ChargeableDays, error) {
	if err := ValidateShape(period, partial); err != nil {
		return ChargeableDays{}, err
	}
	partial = partial.Normalize()
	set := NewHolidaySet(holidays)

	res := ChargeableDays{
		Period:         period,
		PartialDay:     partial,
		ChargeableDays: decimal.Zero,
		HolidayDetails: []ResolvedHoliday{},
		Days:           []DayCharge{},
	}
	for _, day := range period.Days() {
		res.TotalCalendarDays++
		if day.IsWeekend() {
			res.WeekendCount++
			continue
		}
		if h, ok := set.Lookup(day); ok {
			res.HolidayCount++
			res.HolidayDetails = append(res.HolidayDetails, h)
			continue
		}
		res.Days = append(res.Days, DayCharge{Date: day, Slot: partial, Fraction: partial.Fraction()})
		res.ChargeableDays = res.ChargeableDays.Add(partial.Fraction())
	}
	return res, nil
}
