/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a fresh tenant with
	realistic data. Each scenario creates the tenant, the NES policy preset,
	NSW public holidays, employees with initialized balances and, where it
	demonstrates something, leave requests.

AVAILABLE SCENARIOS:

	full-time-nsw:            Full-time employee, Easter week leave around
	                          the NSW holidays, one approved, one pending
	part-time-change:         0.6 FTE moving to 1.0 FTE mid-year
	casual-and-long-service:  Casual excluded from annual leave, ten-year
	                          employee taking long service leave over
	                          Labour Day

HOW SCENARIOS WORK:
 1. Refuse if the tenant already exists (scenarios never overwrite data)
 2. Create the tenant with region NSW
 3. Seed the "nes" policy preset via the factory
 4. Add NSW holidays for 2025 and 2026
 5. Upsert employees and initialize their balances
 6. Optionally submit and decide requests

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "full-time-nsw", "tenantId": "demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tenant)
 3. Add it to 'scenarioLoaders'

NOTE:

	Only routed in development. Every write goes through the engine, so
	loading a scenario bumps the balance version like real traffic does.

SEE ALSO:
  - server.go: RouterOptions.EnableScenarios
  - factory/seeds/nes.json: Policy preset
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "full-time-nsw",
		Name:        "Full-Time NSW",
		Description: "Full-time employee with Easter leave around NSW public holidays",
	},
	{
		ID:          "part-time-change",
		Name:        "Part-Time Fraction Change",
		Description: "Employee moves from 0.6 FTE to 1.0 FTE mid-year; accrual is split at the change",
	},
	{
		ID:          "casual-and-long-service",
		Name:        "Casual + Long Service",
		Description: "Casual excluded from annual leave; ten-year employee takes long service leave",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, tenant generic.TenantID) ([]string, error)

var scenarioLoaders = map[string]scenarioLoader{
	"full-time-nsw":           (*Handler).loadFullTimeScenario,
	"part-time-change":        (*Handler).loadPartTimeChangeScenario,
	"casual-and-long-service": (*Handler).loadCasualLongServiceScenario,
}

var errTenantExists = errors.New("tenant already exists")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into a new tenant. The tenant
// defaults to "demo-<scenarioId>".
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeError(w, r, &generic.ValidationErrorDetail{Field: "scenarioId", Message: "unknown scenario"})
		return
	}
	tenant := generic.TenantID(req.TenantID)
	if tenant == "" {
		tenant = generic.TenantID("demo-" + req.ScenarioID)
	}

	ctx := r.Context()
	employees, err := h.loadScenario(ctx, tenant, load)
	if errors.Is(err, errTenantExists) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("tenant %s already exists; pick another tenantId", tenant),
			Code:  "TENANT_EXISTS",
		})
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.requestLog(r).Info().
		Str("scenario", req.ScenarioID).
		Str("tenant_id", string(tenant)).
		Int("employees", len(employees)).
		Msg("scenario loaded")
	writeJSON(w, http.StatusCreated, LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		TenantID:   string(tenant),
		Employees:  employees,
	})
}

// loadScenario seeds the shared tenant setup, then runs load.
func (h *Handler) loadScenario(ctx context.Context, tenant generic.TenantID, load scenarioLoader) ([]string, error) {
	if _, err := h.Engine.GetTenant(ctx, tenant); err == nil {
		return nil, errTenantExists
	} else if !generic.IsNotFound(err) {
		return nil, err
	}

	if err := h.Engine.SaveTenant(ctx, timeoff.Tenant{ID: tenant, Name: "Demo " + string(tenant), DefaultRegion: "NSW"}); err != nil {
		return nil, err
	}
	policies, err := h.PolicyFactory.SeedPolicies("nes", tenant)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if _, err := h.Engine.SavePolicy(ctx, p); err != nil {
			return nil, fmt.Errorf("save policy %s: %w", p.ID, err)
		}
	}
	for _, hol := range nswHolidays {
		hol.TenantID = tenant
		if _, err := h.Engine.SaveHoliday(ctx, hol); err != nil {
			return nil, fmt.Errorf("save holiday %s: %w", hol.Name, err)
		}
	}
	return load(h, ctx, tenant)
}

// nswHolidays are the national and NSW public holidays for 2025 and 2026.
// Fixed-date national holidays recur; movable ones are listed per year.
var nswHolidays = []timeoff.Holiday{
	{Date: day(2025, 1, 1), Name: "New Year's Day", Recurring: true},
	{Date: day(2025, 12, 25), Name: "Christmas Day", Recurring: true},
	{Date: day(2025, 12, 26), Name: "Boxing Day", Recurring: true},

	{Date: day(2025, 1, 27), Name: "Australia Day (observed)"},
	{Date: day(2025, 4, 18), Name: "Good Friday"},
	{Date: day(2025, 4, 19), Name: "Easter Saturday", RegionCode: "NSW"},
	{Date: day(2025, 4, 21), Name: "Easter Monday"},
	{Date: day(2025, 4, 25), Name: "Anzac Day"},
	{Date: day(2025, 6, 9), Name: "King's Birthday", RegionCode: "NSW"},
	{Date: day(2025, 10, 6), Name: "Labour Day", RegionCode: "NSW"},

	{Date: day(2026, 1, 26), Name: "Australia Day"},
	{Date: day(2026, 4, 3), Name: "Good Friday"},
	{Date: day(2026, 4, 4), Name: "Easter Saturday", RegionCode: "NSW"},
	{Date: day(2026, 4, 6), Name: "Easter Monday"},
	{Date: day(2026, 4, 25), Name: "Anzac Day"},
	{Date: day(2026, 6, 8), Name: "King's Birthday", RegionCode: "NSW"},
	{Date: day(2026, 10, 5), Name: "Labour Day", RegionCode: "NSW"},
	{Date: day(2026, 12, 28), Name: "Boxing Day (observed)", RegionCode: "NSW"},
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFullTimeScenario: Alex books the three working days after Easter
// Monday (approved) and a half-day of personal leave (pending).
func (h *Handler) loadFullTimeScenario(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	alex, err := h.seedEmployee(ctx, timeoff.EmployeeInput{
		ID:                  "alex",
		TenantID:            string(tenant),
		Name:                "Alex Chen",
		ServiceStartDate:    "2022-03-01",
		EmploymentFraction:  f64(1.0),
		StandardHoursPerDay: f64(7.6),
		EmploymentType:      string(timeoff.FullTime),
		RegionCode:          "NSW",
	})
	if err != nil {
		return nil, err
	}

	easter, err := h.Engine.SubmitRequest(ctx, timeoff.SubmitInput{
		TenantID:   tenant,
		EmployeeID: alex,
		Category:   timeoff.CategoryAnnual,
		StartDate:  day(2025, 4, 18),
		EndDate:    day(2025, 4, 25),
		Reason:     "Easter break",
		Actor:      "scenario",
	})
	if err != nil {
		return nil, fmt.Errorf("submit easter leave: %w", err)
	}
	if _, err := h.Engine.ApproveRequest(ctx, tenant, easter.ID, "manager"); err != nil {
		return nil, fmt.Errorf("approve easter leave: %w", err)
	}

	if _, err := h.Engine.SubmitRequest(ctx, timeoff.SubmitInput{
		TenantID:   tenant,
		EmployeeID: alex,
		Category:   timeoff.CategoryPersonal,
		StartDate:  day(2025, 6, 10),
		EndDate:    day(2025, 6, 10),
		PartialDay: timeoff.HalfAM,
		Reason:     "Dentist",
		Actor:      "scenario",
	}); err != nil {
		return nil, fmt.Errorf("submit personal leave: %w", err)
	}
	return []string{string(alex)}, nil
}

// loadPartTimeChangeScenario: Sam accrues at 0.6 FTE until July 2024 and
// at 1.0 FTE after.
func (h *Handler) loadPartTimeChangeScenario(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	sam, err := h.seedEmployee(ctx, timeoff.EmployeeInput{
		ID:                  "sam",
		TenantID:            string(tenant),
		Name:                "Sam Patel",
		ServiceStartDate:    "2024-01-01",
		EmploymentFraction:  f64(1.0),
		StandardHoursPerDay: f64(7.6),
		EmploymentType:      string(timeoff.PartTime),
		RegionCode:          "NSW",
		FractionHistory: []timeoff.FractionChangeInput{
			{EffectiveFrom: "2024-01-01", Fraction: f64(0.6), StandardHoursPerDay: f64(7.6)},
			{EffectiveFrom: "2024-07-01", Fraction: f64(1.0), StandardHoursPerDay: f64(7.6)},
		},
	})
	if err != nil {
		return nil, err
	}
	return []string{string(sam)}, nil
}

// loadCasualLongServiceScenario: Jo is casual; Riley passed the ten-year
// long service waiting period and books the Labour Day week.
func (h *Handler) loadCasualLongServiceScenario(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	jo, err := h.seedEmployee(ctx, timeoff.EmployeeInput{
		ID:                  "jo",
		TenantID:            string(tenant),
		Name:                "Jo Nguyen",
		ServiceStartDate:    "2024-09-02",
		EmploymentFraction:  f64(0.4),
		StandardHoursPerDay: f64(7.6),
		EmploymentType:      string(timeoff.Casual),
		RegionCode:          "NSW",
	})
	if err != nil {
		return nil, err
	}
	riley, err := h.seedEmployee(ctx, timeoff.EmployeeInput{
		ID:                  "riley",
		TenantID:            string(tenant),
		Name:                "Riley Walsh",
		ServiceStartDate:    "2014-02-03",
		EmploymentFraction:  f64(1.0),
		StandardHoursPerDay: f64(7.6),
		EmploymentType:      string(timeoff.FullTime),
		RegionCode:          "NSW",
	})
	if err != nil {
		return nil, err
	}

	if _, err := h.Engine.SubmitRequest(ctx, timeoff.SubmitInput{
		TenantID:   tenant,
		EmployeeID: riley,
		Category:   timeoff.CategoryLongService,
		StartDate:  day(2025, 10, 6),
		EndDate:    day(2025, 10, 10),
		Reason:     "Long service leave",
		Actor:      "scenario",
	}); err != nil {
		return nil, fmt.Errorf("submit long service leave: %w", err)
	}
	return []string{string(jo), string(riley)}, nil
}

func (h *Handler) seedEmployee(ctx context.Context, in timeoff.EmployeeInput) (generic.EntityID, error) {
	emp, _, err := h.Engine.UpsertEmployee(ctx, in)
	if err != nil {
		return "", fmt.Errorf("upsert employee %s: %w", in.ID, err)
	}
	if _, err := h.Engine.InitializeBalances(ctx, emp.TenantID, emp.ID); err != nil {
		return "", fmt.Errorf("initialize balances for %s: %w", in.ID, err)
	}
	return emp.ID, nil
}

func day(y, m, d int) generic.TimePoint {
	return generic.NewTimePoint(y, time.Month(m), d)
}

func f64(v float64) *float64 { return &v }
