/*
Package factory provides JSON to Go leave policy conversion.

PURPOSE:
  Converts JSON policy definitions into timeoff.LeavePolicy values and back.
  Tenants configure their leave policies in JSON (seed files, the admin API,
  the config_json column of the SQLite store); the factory validates the
  document and produces the typed policy.

JSON SCHEMA:
  {
    "id": "acme-annual",
    "tenantId": "acme",
    "name": "Annual Leave",
    "category": "annual",
    "annualHours": 152,
    "minimumStandard": true,
    "payoutOnTermination": true,
    "waitingPeriodMonths": 0,
    "proRata": true,
    "excludeCasual": true,
    "allowNegative": false
  }

  The rate is given either as annualHours (converted over a 365 day year)
  or directly as accrualRateHoursPerDay. Exactly one must be present.
  proRata and excludeCasual default to true when omitted.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(data)
  policies, err := f.ParsePolicies(seedFile)

SEE ALSO:
  - timeoff/policy.go: LeavePolicy and the NES presets
  - store/sqlite: Stores policies as config_json
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a leave policy.
type PolicyJSON struct {
	ID                     string           `json:"id"`
	TenantID               string           `json:"tenantId,omitempty"`
	Name                   string           `json:"name" validate:"required,max=200"`
	Category               string           `json:"category" validate:"required"`
	AnnualHours            *decimal.Decimal `json:"annualHours,omitempty"`
	AccrualRateHoursPerDay *decimal.Decimal `json:"accrualRateHoursPerDay,omitempty"`
	MinimumStandard        bool             `json:"minimumStandard"`
	PayoutOnTermination    bool             `json:"payoutOnTermination"`
	WaitingPeriodMonths    int              `json:"waitingPeriodMonths" validate:"gte=0,lte=600"`
	ProRata                *bool            `json:"proRata,omitempty"`
	ExcludeCasual          *bool            `json:"excludeCasual,omitempty"`
	AllowNegative          bool             `json:"allowNegative"`
}

// policyFile is the envelope accepted by ParsePolicies besides a bare array.
type policyFile struct {
	Policies []PolicyJSON `json:"policies"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct {
	validate *validator.Validate
}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{validate: validator.New()}
}

// ParsePolicy parses one JSON policy document.
func (f *PolicyFactory) ParsePolicy(data []byte) (timeoff.LeavePolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return timeoff.LeavePolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParsePolicies parses either a JSON array of policies or an object with
// a "policies" array. Every policy is validated; the first failure is
// returned with its index.
func (f *PolicyFactory) ParsePolicies(data []byte) ([]timeoff.LeavePolicy, error) {
	var docs []PolicyJSON
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
		}
	} else {
		var file policyFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
		}
		docs = file.Policies
	}

	out := make([]timeoff.LeavePolicy, 0, len(docs))
	for i, pj := range docs {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// FromJSON validates pj and converts it to a LeavePolicy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (timeoff.LeavePolicy, error) {
	if err := f.validate.Struct(pj); err != nil {
		return timeoff.LeavePolicy{}, validationError(err)
	}
	category, err := timeoff.ParseCategory(pj.Category)
	if err != nil {
		return timeoff.LeavePolicy{}, err
	}

	var rate decimal.Decimal
	switch {
	case pj.AnnualHours != nil && pj.AccrualRateHoursPerDay != nil:
		return timeoff.LeavePolicy{}, &generic.ValidationErrorDetail{Field: "annualHours", Message: "give annualHours or accrualRateHoursPerDay, not both"}
	case pj.AnnualHours != nil:
		rate = timeoff.RateFromAnnualHours(*pj.AnnualHours)
	case pj.AccrualRateHoursPerDay != nil:
		rate = *pj.AccrualRateHoursPerDay
	default:
		return timeoff.LeavePolicy{}, &generic.ValidationErrorDetail{Field: "annualHours", Message: "required"}
	}

	p := timeoff.LeavePolicy{
		ID:                     pj.ID,
		TenantID:               generic.TenantID(pj.TenantID),
		Name:                   pj.Name,
		Category:               category,
		AccrualRateHoursPerDay: rate,
		MinimumStandard:        pj.MinimumStandard,
		PayoutOnTermination:    pj.PayoutOnTermination,
		WaitingPeriodMonths:    pj.WaitingPeriodMonths,
		ProRata:                boolOr(pj.ProRata, true),
		ExcludeCasual:          boolOr(pj.ExcludeCasual, true),
		AllowNegative:          pj.AllowNegative,
	}
	// TenantID may still be empty here; LeavePolicy.Validate runs on save.
	if p.AccrualRateHoursPerDay.IsNegative() {
		return timeoff.LeavePolicy{}, &generic.ValidationErrorDetail{Field: "accrualRateHoursPerDay", Message: "must not be negative"}
	}
	return p, nil
}

// ToJSON converts a LeavePolicy to PolicyJSON. The rate is written as
// accrualRateHoursPerDay so the round trip is exact.
func (f *PolicyFactory) ToJSON(p timeoff.LeavePolicy) PolicyJSON {
	rate := p.AccrualRateHoursPerDay
	proRata, excludeCasual := p.ProRata, p.ExcludeCasual
	return PolicyJSON{
		ID:                     p.ID,
		TenantID:               string(p.TenantID),
		Name:                   p.Name,
		Category:               string(p.Category),
		AccrualRateHoursPerDay: &rate,
		MinimumStandard:        p.MinimumStandard,
		PayoutOnTermination:    p.PayoutOnTermination,
		WaitingPeriodMonths:    p.WaitingPeriodMonths,
		ProRata:                &proRata,
		ExcludeCasual:          &excludeCasual,
		AllowNegative:          p.AllowNegative,
	}
}

// MarshalPolicy is ToJSON followed by json.Marshal.
func (f *PolicyFactory) MarshalPolicy(p timeoff.LeavePolicy) ([]byte, error) {
	return json.Marshal(f.ToJSON(p))
}

// =============================================================================
// HELPERS
// =============================================================================

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// validationError reports the first failing field as a
// ValidationErrorDetail.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	return &generic.ValidationErrorDetail{Field: lowerFirst(e.Field()), Message: formatValidationError(e)}
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return "must be at most " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	default:
		return "invalid value"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
