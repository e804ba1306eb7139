/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them
  through decodeAndValidate before calling the engine. Domain rules that
  need state (balances, overlaps, transitions) stay in the engine.

DATES:
  Calendar dates are "YYYY-MM-DD". Timestamps are RFC3339. Hours and days
  are decimal strings ("7.6", "152.00").

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// TENANTS + EMPLOYEES
// =============================================================================

type TenantRequest struct {
	ID            string `json:"id" validate:"required,max=100"`
	Name          string `json:"name" validate:"max=200"`
	DefaultRegion string `json:"defaultRegion" validate:"max=20"`
}

type TenantDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultRegion string `json:"defaultRegion,omitempty"`
}

// UpsertEmployeeRequest is an employee record from an HR system. Numeric
// fields are optional; a missing fraction becomes 0 FTE and missing hours 7.6,
// and each replacement is reported back as a coercion.
type UpsertEmployeeRequest struct {
	ID                  string              `json:"id" validate:"required,max=100"`
	Name                string              `json:"name" validate:"max=200"`
	ServiceStartDate    string              `json:"serviceStartDate" validate:"required,datetime=2006-01-02"`
	EmploymentFraction  *float64            `json:"employmentFraction"`
	StandardHoursPerDay *float64            `json:"standardHoursPerDay"`
	EmploymentType      string              `json:"employmentType" validate:"required,oneof=full_time part_time casual contractor"`
	RegionCode          string              `json:"regionCode" validate:"max=20"`
	FractionHistory     []FractionChangeDTO `json:"fractionHistory" validate:"dive"`
}

type FractionChangeDTO struct {
	EffectiveFrom       string   `json:"effectiveFrom" validate:"required,datetime=2006-01-02"`
	Fraction            *float64 `json:"fraction"`
	StandardHoursPerDay *float64 `json:"standardHoursPerDay"`
}

type EmployeeDTO struct {
	ID                  string                 `json:"id"`
	TenantID            string                 `json:"tenantId"`
	Name                string                 `json:"name"`
	ServiceStartDate    string                 `json:"serviceStartDate"`
	EmploymentFraction  decimal.Decimal        `json:"employmentFraction"`
	StandardHoursPerDay decimal.Decimal        `json:"standardHoursPerDay"`
	EmploymentType      string                 `json:"employmentType"`
	RegionCode          string                 `json:"regionCode,omitempty"`
	FractionHistory     []FractionHistoryEntry `json:"fractionHistory"`
	Coercions           []CoercionDTO          `json:"coercions,omitempty"`
}

type FractionHistoryEntry struct {
	EffectiveFrom       string          `json:"effectiveFrom"`
	Fraction            decimal.Decimal `json:"fraction"`
	StandardHoursPerDay decimal.Decimal `json:"standardHoursPerDay"`
}

// CoercionDTO reports a numeric input replaced by a default. Original is
// omitted when it was missing or not a finite number.
type CoercionDTO struct {
	Field    string          `json:"field"`
	Original *float64        `json:"original,omitempty"`
	Default  decimal.Decimal `json:"default"`
}

func (req UpsertEmployeeRequest) toInput(tenant string) timeoff.EmployeeInput {
	in := timeoff.EmployeeInput{
		ID:                  req.ID,
		TenantID:            tenant,
		Name:                req.Name,
		ServiceStartDate:    req.ServiceStartDate,
		EmploymentFraction:  req.EmploymentFraction,
		StandardHoursPerDay: req.StandardHoursPerDay,
		EmploymentType:      req.EmploymentType,
		RegionCode:          req.RegionCode,
	}
	for _, h := range req.FractionHistory {
		in.FractionHistory = append(in.FractionHistory, timeoff.FractionChangeInput{
			EffectiveFrom:       h.EffectiveFrom,
			Fraction:            h.Fraction,
			StandardHoursPerDay: h.StandardHoursPerDay,
		})
	}
	return in
}

func toEmployeeDTO(e timeoff.Employee, coercions []generic.Coercion) EmployeeDTO {
	dto := EmployeeDTO{
		ID:                  string(e.ID),
		TenantID:            string(e.TenantID),
		Name:                e.Name,
		ServiceStartDate:    e.ServiceStartDate.Key(),
		EmploymentFraction:  e.EmploymentFraction,
		StandardHoursPerDay: e.StandardHoursPerDay,
		EmploymentType:      string(e.EmploymentType),
		RegionCode:          e.RegionCode,
		FractionHistory:     []FractionHistoryEntry{},
	}
	for _, h := range e.History() {
		dto.FractionHistory = append(dto.FractionHistory, FractionHistoryEntry{
			EffectiveFrom:       h.EffectiveFrom.Key(),
			Fraction:            h.Fraction,
			StandardHoursPerDay: h.StandardHoursPerDay,
		})
	}
	for _, c := range coercions {
		cd := CoercionDTO{Field: c.Field, Default: c.Default}
		if !math.IsNaN(c.Original) && !math.IsInf(c.Original, 0) {
			original := c.Original
			cd.Original = &original
		}
		dto.Coercions = append(dto.Coercions, cd)
	}
	return dto
}

// =============================================================================
// BALANCES
// =============================================================================

type InitializeResponse struct {
	Created int `json:"created"`
}

type AdjustmentRequest struct {
	Category       string           `json:"category" validate:"required"`
	Hours          *decimal.Decimal `json:"hours" validate:"required"`
	Reason         string           `json:"reason" validate:"required,max=500"`
	Actor          string           `json:"actor" validate:"max=100"`
	IdempotencyKey string           `json:"idempotencyKey" validate:"max=200"`
	Override       bool             `json:"override"`
}

type AdjustmentResponse struct {
	Applied bool       `json:"applied"`
	Balance BalanceDTO `json:"balance"`
}

// BalanceDTO is a stored balance row.
type BalanceDTO struct {
	Category            string          `json:"category"`
	OpeningBalanceHours decimal.Decimal `json:"openingBalanceHours"`
	AccruedHours        decimal.Decimal `json:"accruedHours"`
	AdjustedHours       decimal.Decimal `json:"adjustedHours"`
	UsedApprovedHours   decimal.Decimal `json:"usedApprovedHours"`
	UsedPendingHours    decimal.Decimal `json:"usedPendingHours"`
	AvailableHours      decimal.Decimal `json:"availableHours"`
	LastCalculatedDate  string          `json:"lastCalculatedDate,omitempty"`
	AllowNegative       bool            `json:"allowNegative"`
	Version             int64           `json:"version"`
}

func toBalanceDTO(b timeoff.LeaveBalance) BalanceDTO {
	dto := BalanceDTO{
		Category:            string(b.Category),
		OpeningBalanceHours: b.OpeningBalanceHours,
		AccruedHours:        b.AccruedHours,
		AdjustedHours:       b.AdjustedHours,
		UsedApprovedHours:   b.UsedApprovedHours,
		UsedPendingHours:    b.UsedPendingHours,
		AvailableHours:      b.AvailableHours(),
		AllowNegative:       b.AllowNegative,
		Version:             b.Version,
	}
	if !b.LastCalculatedDate.IsZero() {
		dto.LastCalculatedDate = b.LastCalculatedDate.Key()
	}
	return dto
}

type RecalculateResponse struct {
	AsOf    string `json:"asOf"`
	Changed int    `json:"changed"`
}

type MutationDTO struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Category       string          `json:"category"`
	Kind           string          `json:"kind"`
	PendingDelta   decimal.Decimal `json:"pendingDelta"`
	ApprovedDelta  decimal.Decimal `json:"approvedDelta"`
	AdjustedDelta  decimal.Decimal `json:"adjustedDelta"`
	AccruedDelta   decimal.Decimal `json:"accruedDelta"`
	RequestID      string          `json:"requestId,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Actor          string          `json:"actor,omitempty"`
	Override       bool            `json:"override,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toMutationDTO(m timeoff.BalanceMutation) MutationDTO {
	return MutationDTO{
		ID:             m.ID,
		IdempotencyKey: m.IdempotencyKey,
		Category:       string(m.Category),
		Kind:           string(m.Kind),
		PendingDelta:   m.PendingDelta,
		ApprovedDelta:  m.ApprovedDelta,
		AdjustedDelta:  m.AdjustedDelta,
		AccruedDelta:   m.AccruedDelta,
		RequestID:      m.RequestID,
		Reason:         m.Reason,
		Actor:          m.Actor,
		Override:       m.Override,
		CreatedAt:      m.CreatedAt,
	}
}

// =============================================================================
// CHARGEABLE DAYS + HOLIDAYS
// =============================================================================

type ChargeableDaysRequest struct {
	StartDate  string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Region     string `json:"region" validate:"max=20"`
	PartialDay string `json:"partialDayType" validate:"omitempty,oneof=full half_am half_pm"`
}

type HolidayRequest struct {
	ID         string `json:"id" validate:"max=100"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Name       string `json:"name" validate:"required,max=200"`
	RegionCode string `json:"regionCode" validate:"max=20"`
	Recurring  bool   `json:"recurring"`
}

type HolidayDTO struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	Name       string `json:"name"`
	RegionCode string `json:"regionCode,omitempty"`
	Recurring  bool   `json:"recurring"`
}

// =============================================================================
// POLICIES
// =============================================================================

type SavePolicyResponse struct {
	Policy factory.PolicyJSON `json:"policy"`
	Issues []timeoff.Issue    `json:"issues"`
}

type ComplianceResponse struct {
	Compliant bool            `json:"compliant"`
	Issues    []timeoff.Issue `json:"issues"`
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

type SubmitLeaveRequest struct {
	EmployeeID string `json:"employeeId" validate:"required,max=100"`
	Category   string `json:"category" validate:"required"`
	StartDate  string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"endDate" validate:"required,datetime=2006-01-02"`
	PartialDay string `json:"partialDayType" validate:"omitempty,oneof=full half_am half_pm"`
	Reason     string `json:"reason" validate:"max=1000"`
	Actor      string `json:"actor" validate:"max=100"`
}

// DecisionRequest is the optional body of approve, decline and cancel.
type DecisionRequest struct {
	Actor string `json:"actor" validate:"max=100"`
	Note  string `json:"note" validate:"max=1000"`
}

type LeaveRequestDTO struct {
	ID                  string              `json:"id"`
	TenantID            string              `json:"tenantId"`
	EmployeeID          string              `json:"employeeId"`
	Category            string              `json:"category"`
	StartDate           string              `json:"startDate"`
	EndDate             string              `json:"endDate"`
	PartialDay          string              `json:"partialDayType"`
	Status              string              `json:"status"`
	TotalChargeableDays decimal.Decimal     `json:"totalChargeableDays"`
	ChargeableHours     decimal.Decimal     `json:"chargeableHours"`
	Days                []timeoff.DayCharge `json:"days"`
	Reason              string              `json:"reason,omitempty"`
	SubmittedAt         time.Time           `json:"submittedAt"`
	DecidedAt           *time.Time          `json:"decidedAt,omitempty"`
	DecidedBy           string              `json:"decidedBy,omitempty"`
	Note                string              `json:"note,omitempty"`

	// Validation is set on single-request reads.
	Validation *timeoff.RequestValidation `json:"validation,omitempty"`
}

func toLeaveRequestDTO(r timeoff.LeaveRequest) LeaveRequestDTO {
	days := r.Days
	if days == nil {
		days = []timeoff.DayCharge{}
	}
	return LeaveRequestDTO{
		ID:                  r.ID,
		TenantID:            string(r.TenantID),
		EmployeeID:          string(r.EmployeeID),
		Category:            string(r.Category),
		StartDate:           r.StartDate.Key(),
		EndDate:             r.EndDate.Key(),
		PartialDay:          string(r.PartialDay),
		Status:              string(r.Status),
		TotalChargeableDays: r.TotalChargeableDays,
		ChargeableHours:     r.ChargeableHours,
		Days:                days,
		Reason:              r.Reason,
		SubmittedAt:         r.SubmittedAt,
		DecidedAt:           r.DecidedAt,
		DecidedBy:           r.DecidedBy,
		Note:                r.Note,
	}
}

// =============================================================================
// VERSION + SCENARIOS
// =============================================================================

type VersionResponse struct {
	Version uint64 `json:"version"`
	Changed bool   `json:"changed"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
	TenantID   string `json:"tenantId" validate:"max=100"`
}

type LoadScenarioResponse struct {
	ScenarioID string   `json:"scenarioId"`
	TenantID   string   `json:"tenantId"`
	Employees  []string `json:"employees"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}
