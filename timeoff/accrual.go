/*
accrual.go - Accrued entitlement from service history

PURPOSE:
  Computes accrued hours as of a reference date from the service start
  date, the employment fraction history and a policy's daily rate.

ALGORITHM:
  The service interval [serviceStart, asOf] is split at every fraction
  change point. Each segment accrues

      calendarDays(segment) x ratePerDay x fractionInForce

  and the segments are summed. A fraction change therefore never restates
  days already accrued under the previous fraction, and the total over a
  change equals the two sub-period totals computed on their own.

  The earliest history entry applies back to the service start date when
  the first recorded change is later than that date.

WAITING PERIOD:
  A policy with WaitingPeriodMonths > 0 suppresses accrual entirely until
  serviceStart + WaitingPeriodMonths. Before that date the result is
  Eligible=false with the EligibilityDate and zero hours. From that date on
  the whole service interval counts.

EXAMPLE:
  res, _ := timeoff.CalculateAccrual(timeoff.AccrualInput{
      ServiceStart: date(2025, 1, 1),
      History:      emp.History(),
      RatePerDay:   policy.AccrualRateHoursPerDay,
      ProRata:      true,
      AsOf:         date(2025, 12, 31),
  })

SEE ALSO:
  - balance.go: Feeds the result into the available-balance view
  - generic/period.go: SplitAt
*/
package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

type AccrualInput struct {
	ServiceStart        generic.TimePoint
	History             []FractionChange
	RatePerDay          decimal.Decimal
	ProRata             bool
	WaitingPeriodMonths int
	AsOf                generic.TimePoint
}

// AccrualSegment is one sub-interval with a constant fraction.
type AccrualSegment struct {
	Period   generic.Period
	Fraction decimal.Decimal
	Days     int
	Hours    decimal.Decimal
}

type AccrualResult struct {
	AsOf            generic.TimePoint
	AccruedHours    decimal.Decimal
	Segments        []AccrualSegment
	Eligible        bool
	EligibilityDate *generic.TimePoint
}

// AccrualInputFor builds the calculator input for an employee under a
// policy.
func AccrualInputFor(emp Employee, policy LeavePolicy, asOf generic.TimePoint) AccrualInput {
	return AccrualInput{
		ServiceStart:        emp.ServiceStartDate,
		History:             emp.History(),
		RatePerDay:          policy.AccrualRateHoursPerDay,
		ProRata:             policy.ProRata,
		WaitingPeriodMonths: policy.WaitingPeriodMonths,
		AsOf:                asOf,
	}
}

// CalculateAccrual computes accrued hours as of in.AsOf.
func CalculateAccrual(in AccrualInput) (AccrualResult, error) {
	if in.ServiceStart.IsZero() || in.AsOf.IsZero() {
		return AccrualResult{}, generic.ErrInvalidPeriod
	}
	res := AccrualResult{AsOf: in.AsOf, AccruedHours: decimal.Zero, Eligible: true}

	if in.WaitingPeriodMonths > 0 {
		eligibleFrom := in.ServiceStart.AddMonths(in.WaitingPeriodMonths)
		res.EligibilityDate = &eligibleFrom
		if in.AsOf.Before(eligibleFrom) {
			res.Eligible = false
			return res, nil
		}
	}

	if in.AsOf.Before(in.ServiceStart) {
		return res, nil
	}

	history := in.History
	if len(history) == 0 {
		history = []FractionChange{{EffectiveFrom: in.ServiceStart, Fraction: one}}
	}

	service := generic.Period{Start: in.ServiceStart, End: in.AsOf}
	points := make([]generic.TimePoint, 0, len(history))
	for _, h := range history {
		points = append(points, h.EffectiveFrom)
	}

	for _, seg := range service.SplitAt(points) {
		fraction := inForce(history, seg.Start).Fraction
		if !in.ProRata {
			fraction = one
		}
		days := seg.Length()
		hours := decimal.NewFromInt(int64(days)).Mul(in.RatePerDay).Mul(fraction)
		res.Segments = append(res.Segments, AccrualSegment{Period: seg, Fraction: fraction, Days: days, Hours: hours})
		res.AccruedHours = res.AccruedHours.Add(hours)
	}
	return res, nil
}
