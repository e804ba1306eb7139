// Package timeoff implements the leave balance and accrual engine.
// It turns an employee's service history, employment fraction and the
// tenant's leave policies into balances per leave category, and decides
// how many chargeable days a date range consumes.
package timeoff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE CATEGORY - Extensible registry
// =============================================================================

// Category identifies a leave category. Each category has its own balance
// row and accrual rule.
type Category string

const (
	CategoryAnnual      Category = "annual"
	CategoryPersonal    Category = "personal"
	CategoryLongService Category = "long_service"
)

func (c Category) String() string { return string(c) }

var (
	categoryMu       sync.RWMutex
	categoryOrder    []Category
	categoryRegistry = make(map[Category]struct{})
)

func init() {
	RegisterCategory(CategoryAnnual)
	RegisterCategory(CategoryPersonal)
	RegisterCategory(CategoryLongService)
}

// RegisterCategory adds a category to the registry. Registering the same
// category twice is a no-op.
func RegisterCategory(c Category) {
	categoryMu.Lock()
	defer categoryMu.Unlock()
	if _, ok := categoryRegistry[c]; ok {
		return
	}
	categoryRegistry[c] = struct{}{}
	categoryOrder = append(categoryOrder, c)
}

// IsRegistered reports whether c is a known category.
func IsRegistered(c Category) bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	_, ok := categoryRegistry[c]
	return ok
}

// Categories returns the registered categories in registration order.
func Categories() []Category {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// ParseCategory accepts the canonical form plus the camelCase spelling
// used by older clients ("longService").
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "longService") {
		s = string(CategoryLongService)
	}
	c := Category(strings.ToLower(s))
	if !IsRegistered(c) {
		return "", &RequestShapeError{Field: "category", Reason: fmt.Sprintf("unknown leave category %q", s)}
	}
	return c, nil
}

// =============================================================================
// EMPLOYMENT TYPE
// =============================================================================

type EmploymentType string

const (
	FullTime   EmploymentType = "full_time"
	PartTime   EmploymentType = "part_time"
	Casual     EmploymentType = "casual"
	Contractor EmploymentType = "contractor"
)

func (t EmploymentType) Valid() bool {
	switch t {
	case FullTime, PartTime, Casual, Contractor:
		return true
	}
	return false
}

// =============================================================================
// PARTIAL DAY
// =============================================================================

// PartialDayType is the half-day marker of a single-day request.
type PartialDayType string

const (
	FullDay PartialDayType = "full"
	HalfAM  PartialDayType = "half_am"
	HalfPM  PartialDayType = "half_pm"
)

func (p PartialDayType) Valid() bool {
	switch p {
	case FullDay, HalfAM, HalfPM, "":
		return true
	}
	return false
}

// IsHalf reports whether p is one of the half-day markers.
func (p PartialDayType) IsHalf() bool { return p == HalfAM || p == HalfPM }

// Fraction is the share of a day p consumes: 1 for a full day, 0.5 otherwise.
func (p PartialDayType) Fraction() decimal.Decimal {
	if p.IsHalf() {
		return half
	}
	return decimal.NewFromInt(1)
}

// Normalize maps the empty marker to FullDay.
func (p PartialDayType) Normalize() PartialDayType {
	if p == "" {
		return FullDay
	}
	return p
}

var half = decimal.RequireFromString("0.5")

// =============================================================================
// REQUEST STATUS
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusDeclined  RequestStatus = "declined"
	StatusCancelled RequestStatus = "cancelled"
)

// IsActive reports whether a request in this status still holds hours
// against the balance.
func (s RequestStatus) IsActive() bool { return s == StatusPending || s == StatusApproved }

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool { return s == StatusDeclined || s == StatusCancelled }
