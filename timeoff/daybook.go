/*
daybook.go - Per-employee occupancy of leave days

PURPOSE:
  An employee cannot be on leave twice on the same day. The day book holds
  every day (or half day) taken by the employee's active requests and
  rejects a new request that would take any part of a day twice.

INVARIANT:
  No two active requests of the same employee hold the same half of the
  same date, across all categories.

HALF DAYS:
  A full day holds both halves. An AM request and a PM request on the same
  date fit together and consume exactly 1.0 day between them; a second AM
  request on that date is rejected.

SEE ALSO:
  - chargeable.go: Produces the DayCharge list a request reserves
  - request.go: Builds a day book before accepting a submission
*/
package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

type daySlot uint8

const (
	slotAM daySlot = 1 << iota
	slotPM
	slotFull = slotAM | slotPM
)

func slotOf(p PartialDayType) daySlot {
	switch p {
	case HalfAM:
		return slotAM
	case HalfPM:
		return slotPM
	}
	return slotFull
}

type dayEntry struct {
	held   daySlot
	owners map[daySlot]string
}

// DayBook tracks which halves of which dates an employee already holds.
type DayBook struct {
	employeeID generic.EntityID
	days       map[string]*dayEntry
}

func NewDayBook(employeeID generic.EntityID) *DayBook {
	return &DayBook{employeeID: employeeID, days: make(map[string]*dayEntry)}
}

// NewDayBookFromRequests loads every active request of the employee.
// Inactive requests are skipped.
func NewDayBookFromRequests(employeeID generic.EntityID, requests []LeaveRequest) (*DayBook, error) {
	book := NewDayBook(employeeID)
	for _, r := range requests {
		if r.EmployeeID != employeeID || !r.Status.IsActive() {
			continue
		}
		if err := book.Reserve(r.ID, r.Days); err != nil {
			return nil, err
		}
	}
	return book, nil
}

// Check reports the first conflict of charges against the book without
// reserving anything.
func (b *DayBook) Check(charges []DayCharge) error {
	for _, c := range charges {
		e, ok := b.days[c.Date.Key()]
		if !ok {
			continue
		}
		want := slotOf(c.Slot)
		if overlap := e.held & want; overlap != 0 {
			return &DuplicateDayError{
				EmployeeID:        b.employeeID,
				Date:              c.Date,
				Slot:              c.Slot.Normalize(),
				ExistingRequestID: e.ownerOf(overlap),
			}
		}
	}
	return nil
}

// Reserve records charges for requestID, or returns the first conflict and
// leaves the book unchanged.
func (b *DayBook) Reserve(requestID string, charges []DayCharge) error {
	if err := b.Check(charges); err != nil {
		return err
	}
	seen := make(map[string]daySlot, len(charges))
	for _, c := range charges {
		key := c.Date.Key()
		if seen[key]&slotOf(c.Slot) != 0 {
			return &DuplicateDayError{EmployeeID: b.employeeID, Date: c.Date, Slot: c.Slot.Normalize(), ExistingRequestID: requestID}
		}
		seen[key] |= slotOf(c.Slot)
	}
	for _, c := range charges {
		key := c.Date.Key()
		e, ok := b.days[key]
		if !ok {
			e = &dayEntry{owners: make(map[daySlot]string)}
			b.days[key] = e
		}
		s := slotOf(c.Slot)
		e.held |= s
		for _, part := range []daySlot{slotAM, slotPM} {
			if s&part != 0 {
				e.owners[part] = requestID
			}
		}
	}
	return nil
}

// Consumed returns how much of day is held: 0, 0.5 or 1.
func (b *DayBook) Consumed(day generic.TimePoint) decimal.Decimal {
	e, ok := b.days[day.Key()]
	if !ok {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, part := range []daySlot{slotAM, slotPM} {
		if e.held&part != 0 {
			total = total.Add(half)
		}
	}
	return total
}

// Total returns the days held across the whole book.
func (b *DayBook) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range b.days {
		for _, part := range []daySlot{slotAM, slotPM} {
			if e.held&part != 0 {
				total = total.Add(half)
			}
		}
	}
	return total
}

func (e *dayEntry) ownerOf(s daySlot) string {
	if s&slotAM != 0 {
		return e.owners[slotAM]
	}
	return e.owners[slotPM]
}
