/*
handlers_test.go - HTTP tests for the leave API

Tests for:
- Tenants and employees (validation, coercions, not found)
- Balance initialization, adjustments, accrual refresh, mutations
- Request lifecycle over HTTP (submit, overlap, approve, cancel)
- Policies, compliance and holidays
- Version long-poll
- Error mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// FIXTURE
// =============================================================================

const testTenant = generic.TenantID("acme")

var testNow = time.Date(2025, time.June, 30, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	ctx    context.Context
	eng    *timeoff.Engine
	router http.Handler
}

// newTestAPI serves a memory-backed engine pinned to 2025-06-30 with
// tenant "acme" (NSW) on the NES presets.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{ctx: context.Background()}
	a.eng = timeoff.NewEngine(memory.New(), timeoff.WithClock(func() time.Time { return testNow }))
	a.router = NewRouter(NewHandler(a.eng, logger.Nop()), RouterOptions{EnableScenarios: true})

	require.NoError(t, a.eng.SaveTenant(a.ctx, timeoff.Tenant{ID: testTenant, Name: "Acme", DefaultRegion: "NSW"}))
	for _, p := range timeoff.NESPolicies(testTenant) {
		_, err := a.eng.SavePolicy(a.ctx, p)
		require.NoError(t, err)
	}
	return a
}

// do sends body as JSON; a string body is sent as is.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *testAPI) hire(t *testing.T, id, empType, start string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees", map[string]any{
		"id":                  id,
		"name":                id,
		"serviceStartDate":    start,
		"employmentFraction":  1.0,
		"standardHoursPerDay": 7.6,
		"employmentType":      empType,
		"regionCode":          "NSW",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (a *testAPI) addHoliday(t *testing.T, date, name string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/holidays", map[string]any{"date": date, "name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// HEALTH + TENANTS
// =============================================================================

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestTenants_SaveGetAndNotFound(t *testing.T) {
	a := newTestAPI(t)

	// WHEN: A tenant is created
	rec := a.do(t, http.MethodPost, "/api/tenants", map[string]any{"id": "globex", "name": "Globex", "defaultRegion": "VIC"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: It can be read back and is listed next to acme
	got := decode[TenantDTO](t, a.do(t, http.MethodGet, "/api/tenants/globex", nil))
	assert.Equal(t, TenantDTO{ID: "globex", Name: "Globex", DefaultRegion: "VIC"}, got)
	assert.Len(t, decode[[]TenantDTO](t, a.do(t, http.MethodGet, "/api/tenants", nil)), 2)

	// AND: An unknown tenant is a 404
	rec = a.do(t, http.MethodGet, "/api/tenants/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestUpsertEmployee_ReportsEveryInvalidField(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees", map[string]any{
		"id":               "",
		"serviceStartDate": "30/06/2025",
		"employmentType":   "temp",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Contains(t, resp.Details, "id")
	assert.Contains(t, resp.Details, "serviceStartDate")
	assert.Contains(t, resp.Details, "employmentType")
}

func TestUpsertEmployee_RejectsUnknownFields(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees", `{"id":"x","fte":1}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "body")
}

func TestUpsertEmployee_ReportsCoercions(t *testing.T) {
	a := newTestAPI(t)

	// GIVEN: A record without an employment fraction
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees", map[string]any{
		"id":                  "kim",
		"serviceStartDate":    "2024-01-15",
		"standardHoursPerDay": 7.6,
		"employmentType":      "part_time",
	})

	// THEN: The default is applied and reported, never silently
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	emp := decode[EmployeeDTO](t, rec)
	assert.True(t, emp.EmploymentFraction.IsZero())
	require.NotEmpty(t, emp.Coercions)
	assert.Equal(t, "employmentFraction", emp.Coercions[0].Field)
	assert.Nil(t, emp.Coercions[0].Original)

	// AND: The employee reads back without coercions
	got := decode[EmployeeDTO](t, a.do(t, http.MethodGet, "/api/tenants/acme/employees/kim", nil))
	assert.Equal(t, "2024-01-15", got.ServiceStartDate)
	assert.Empty(t, got.Coercions)
}

func TestGetEmployee_UnknownTenantIsNotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/tenants/nobody/employees", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestBalances_InitializeIsIdempotent(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")

	// WHEN: Balances are initialised twice
	first := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/balances/init", nil)
	second := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/balances/init", nil)

	// THEN: Rows are created once
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, 3, decode[InitializeResponse](t, first).Created)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 0, decode[InitializeResponse](t, second).Created)

	// AND: Every category balances
	sheet := decode[timeoff.BalanceSheet](t, a.do(t, http.MethodGet, "/api/tenants/acme/employees/alex/balances", nil))
	require.Len(t, sheet.Balances, 3)
	annual := sheet.Balances[timeoff.CategoryAnnual]
	assert.True(t, annual.AccruedHours.IsPositive())
	assert.True(t, annual.AvailableHours.Equal(annual.OpeningBalanceHours.Add(annual.AccruedHours).
		Add(annual.AdjustedHours).Sub(annual.UsedApprovedHours).Sub(annual.UsedPendingHours)))
}

func TestBalances_AsOfMustBeADate(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")

	rec := a.do(t, http.MethodGet, "/api/tenants/acme/employees/alex/balances?asOf=yesterday", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "asOf")
}

func TestBalances_UnknownEmployeeIsNotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/tenants/acme/employees/ghost/balances", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjustBalance_ReplayedKeyIsNotReapplied(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")
	body := map[string]any{"category": "annual", "hours": "8", "reason": "carried over", "idempotencyKey": "adj-1"}

	// WHEN: The same adjustment is posted twice
	first := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/adjustments", body)
	second := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/adjustments", body)

	// THEN: It is applied once
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	applied := decode[AdjustmentResponse](t, first)
	assert.True(t, applied.Applied)
	assert.True(t, applied.Balance.AdjustedHours.Equal(dec("8")))

	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	replay := decode[AdjustmentResponse](t, second)
	assert.False(t, replay.Applied)
	assert.True(t, replay.Balance.AdjustedHours.Equal(dec("8")))

	// AND: The journal holds the adjustment with its actor
	journal := decode[[]MutationDTO](t, a.do(t, http.MethodGet, "/api/tenants/acme/employees/alex/mutations", nil))
	var adjustments int
	for _, m := range journal {
		if m.IdempotencyKey == "adj-1" {
			adjustments++
			assert.Equal(t, "api", m.Actor)
		}
	}
	assert.Equal(t, 1, adjustments)
}

func TestAdjustBalance_NegativeResultNeedsOverride(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")
	body := map[string]any{"category": "annual", "hours": "-10000", "reason": "error correction"}

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/adjustments", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "NEGATIVE_BALANCE", resp.Code)
	assert.Equal(t, "annual", resp.Details["category"])

	body["override"] = true
	rec = a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/adjustments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[AdjustmentResponse](t, rec).Balance.AllowNegative)
}

func TestAdjustBalance_InvalidInput(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing hours", map[string]any{"category": "annual", "reason": "x"}, "hours"},
		{"missing reason", map[string]any{"category": "annual", "hours": "1"}, "reason"},
		{"unknown category", map[string]any{"category": "sick", "hours": "1", "reason": "x"}, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/adjustments", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decode[ErrorResponse](t, rec).Details, tt.field)
		})
	}
}

func TestRecalculateAccruals_DefaultsToToday(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/employees/alex/accruals", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-06-30", decode[RecalculateResponse](t, rec).AsOf)
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func TestRequests_Lifecycle(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")
	a.addHoliday(t, "2025-04-21", "Easter Monday")
	a.addHoliday(t, "2025-04-25", "Anzac Day")

	// GIVEN: Easter week has two public holidays
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/chargeable-days", map[string]any{
		"startDate": "2025-04-21", "endDate": "2025-04-25",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	charge := decode[timeoff.ChargeableDays](t, rec)
	assert.True(t, charge.ChargeableDays.Equal(dec("3")))
	assert.Equal(t, 2, charge.HolidayCount)

	// WHEN: Alex books the week
	rec = a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "alex", "category": "annual", "startDate": "2025-04-21", "endDate": "2025-04-25",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[LeaveRequestDTO](t, rec)
	assert.Equal(t, "pending", submitted.Status)
	assert.True(t, submitted.TotalChargeableDays.Equal(dec("3")))
	assert.True(t, submitted.ChargeableHours.Equal(dec("22.8")))

	// AND: Books an overlapping day
	rec = a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "alex", "category": "personal", "startDate": "2025-04-23", "endDate": "2025-04-23",
		"partialDayType": "half_pm",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	overlap := decode[ErrorResponse](t, rec)
	assert.Equal(t, "DUPLICATE_DAY", overlap.Code)
	assert.Equal(t, submitted.ID, overlap.Details["existingRequestId"])

	// THEN: The request re-validates against the current calendar
	path := "/api/tenants/acme/requests/" + submitted.ID
	got := decode[LeaveRequestDTO](t, a.do(t, http.MethodGet, path, nil))
	require.NotNil(t, got.Validation)
	assert.True(t, got.Validation.UpToDate)

	// WHEN: It is approved, approved again, then cancelled
	rec = a.do(t, http.MethodPost, path+"/approve", map[string]any{"actor": "manager"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[LeaveRequestDTO](t, rec)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "manager", approved.DecidedBy)

	rec = a.do(t, http.MethodPost, path+"/approve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode[ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodPost, path+"/cancel", map[string]any{"note": "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[LeaveRequestDTO](t, rec).Status)

	// THEN: Nothing is held against the balance
	sheet := decode[timeoff.BalanceSheet](t, a.do(t, http.MethodGet, "/api/tenants/acme/employees/alex/balances", nil))
	annual := sheet.Balances[timeoff.CategoryAnnual]
	assert.True(t, annual.UsedApprovedHours.IsZero())
	assert.True(t, annual.UsedPendingHours.IsZero())

	// AND: The list filters by status
	cancelled := decode[[]LeaveRequestDTO](t, a.do(t, http.MethodGet, "/api/tenants/acme/requests?employeeId=alex&status=cancelled", nil))
	assert.Len(t, cancelled, 1)
	pending := decode[[]LeaveRequestDTO](t, a.do(t, http.MethodGet, "/api/tenants/acme/requests?status=pending", nil))
	assert.Empty(t, pending)
}

func TestRequests_HalfDayOnNewHolidayStillReadable(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "alex", "category": "personal", "startDate": "2025-07-08", "endDate": "2025-07-08",
		"partialDayType": "half_am",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[LeaveRequestDTO](t, rec)

	// GIVEN: A holiday declared on the booked day
	a.addHoliday(t, "2025-07-08", "Snap holiday")

	// WHEN: The request is read
	rec = a.do(t, http.MethodGet, "/api/tenants/acme/requests/"+submitted.ID, nil)

	// THEN: It comes back with the drift flagged
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[LeaveRequestDTO](t, rec)
	require.NotNil(t, got.Validation)
	assert.False(t, got.Validation.UpToDate)
	assert.True(t, got.Validation.CurrentDays.IsZero())
	assert.True(t, got.Validation.Drift.Equal(dec("-0.5")))
	require.Len(t, got.Validation.HolidayDetails, 1)
}

func TestRequests_DeclineTakesANote(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "alex", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-07",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[LeaveRequestDTO](t, rec).ID

	rec = a.do(t, http.MethodPost, "/api/tenants/acme/requests/"+id+"/decline", map[string]any{"note": "stocktake"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	declined := decode[LeaveRequestDTO](t, rec)
	assert.Equal(t, "declined", declined.Status)
	assert.Equal(t, "stocktake", declined.Note)
}

func TestRequests_InsufficientBalance(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "new", "full_time", "2025-06-01")

	// WHEN: A month-old employee books a full week
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "new", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-11",
	})

	// THEN: It is rejected with the shortfall
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Code)
	assert.Equal(t, "annual", resp.Details["category"])
	assert.Equal(t, "38", resp.Details["requested"])
}

func TestRequests_RejectedShapes(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "alex", "full_time", "2022-03-01")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"half day over a range", map[string]any{"employeeId": "alex", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-08", "partialDayType": "half_am"}, http.StatusBadRequest},
		{"end before start", map[string]any{"employeeId": "alex", "category": "annual", "startDate": "2025-07-08", "endDate": "2025-07-07"}, http.StatusBadRequest},
		{"weekend only", map[string]any{"employeeId": "alex", "category": "annual", "startDate": "2025-07-05", "endDate": "2025-07-06"}, http.StatusBadRequest},
		{"bad partial marker", map[string]any{"employeeId": "alex", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-07", "partialDayType": "evening"}, http.StatusBadRequest},
		{"unknown employee", map[string]any{"employeeId": "ghost", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-07"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/tenants/acme/requests", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequests_CasualIsNotEligible(t *testing.T) {
	a := newTestAPI(t)
	a.hire(t, "cas", "casual", "2022-03-01")

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/requests", map[string]any{
		"employeeId": "cas", "category": "annual", "startDate": "2025-07-07", "endDate": "2025-07-07",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, "NOT_ELIGIBLE", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// POLICIES + HOLIDAYS
// =============================================================================

func TestPolicies_SaveReportsCompliance(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, a.eng.SaveTenant(a.ctx, timeoff.Tenant{ID: "globex", Name: "Globex"}))

	// WHEN: Globex configures three weeks of annual leave
	rec := a.do(t, http.MethodPost, "/api/tenants/globex/policies", map[string]any{
		"name": "Annual", "category": "annual", "annualHours": 114, "payoutOnTermination": true,
	})

	// THEN: It is saved and the shortfall is reported, not enforced
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[SavePolicyResponse](t, rec)
	assert.NotEmpty(t, saved.Policy.ID)
	assert.Equal(t, "globex", saved.Policy.TenantID)
	assert.True(t, timeoff.HasErrors(saved.Issues))

	codes := map[string]bool{}
	for _, i := range saved.Issues {
		codes[i.Code] = true
	}
	assert.True(t, codes["below_minimum"])
	assert.True(t, codes["missing_policy"])

	listed := decode[[]map[string]any](t, a.do(t, http.MethodGet, "/api/tenants/globex/policies", nil))
	assert.Len(t, listed, 1)

	stored := decode[ComplianceResponse](t, a.do(t, http.MethodGet, "/api/tenants/globex/compliance", nil))
	assert.False(t, stored.Compliant)
}

func TestPolicies_RejectsMismatchedTenantAndBadJSON(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/tenants/acme/policies", map[string]any{
		"tenantId": "globex", "name": "Annual", "category": "annual", "annualHours": 152,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "tenantId")

	rec = a.do(t, http.MethodPost, "/api/tenants/acme/policies", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompliance_StoredAndAdHoc(t *testing.T) {
	a := newTestAPI(t)

	// GIVEN: acme runs the NES presets
	stored := decode[ComplianceResponse](t, a.do(t, http.MethodGet, "/api/tenants/acme/compliance", nil))
	assert.True(t, stored.Compliant, "%+v", stored.Issues)

	// WHEN: A draft policy set without personal leave is checked
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/compliance", `[
		{"name": "Annual", "category": "annual", "annualHours": 152, "payoutOnTermination": true, "minimumStandard": true}
	]`)

	// THEN: The draft fails without touching the stored set
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[ComplianceResponse](t, rec).Compliant)
	policies, err := a.eng.ListPolicies(a.ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, policies, 3)
}

func TestHolidays_ResolveDefaultsToCurrentYear(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/api/tenants/acme/holidays", map[string]any{
		"date": "2020-12-25", "name": "Christmas Day", "recurring": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[HolidayDTO](t, rec).ID)
	a.addHoliday(t, "2025-04-18", "Good Friday")
	rec = a.do(t, http.MethodPost, "/api/tenants/acme/holidays", map[string]any{
		"date": "2025-03-10", "name": "Labour Day", "regionCode": "VIC",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: The tenant's holidays are listed with no range
	all := decode[[]timeoff.ResolvedHoliday](t, a.do(t, http.MethodGet, "/api/tenants/acme/holidays", nil))

	// THEN: The recurring holiday appears in 2025 and VIC is excluded
	var keys []string
	for _, h := range all {
		keys = append(keys, h.Date.Key())
	}
	assert.Equal(t, []string{"2025-04-18", "2025-12-25"}, keys)

	// AND: A VIC range sees its own holiday
	vic := decode[[]timeoff.ResolvedHoliday](t, a.do(t, http.MethodGet, "/api/tenants/acme/holidays?region=VIC&from=2025-03-01&to=2025-03-31", nil))
	require.Len(t, vic, 1)
	assert.Equal(t, "Labour Day", vic[0].Name)
}

func TestHolidays_InvalidRange(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/tenants/acme/holidays?from=2025-13-01", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// VERSION
// =============================================================================

func TestVersion_LongPollReturnsOnChange(t *testing.T) {
	a := newTestAPI(t)
	since := a.eng.Version()

	// GIVEN: An employee is saved shortly after the poll starts
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, err := a.eng.UpsertEmployee(a.ctx, timeoff.EmployeeInput{
			ID: "late", TenantID: string(testTenant), ServiceStartDate: "2024-01-01", EmploymentType: "full_time",
		})
		assert.NoError(t, err)
	}()

	// WHEN: A client waits for the version to move
	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/version?since=%d&wait=5s", since), nil)

	// THEN: It returns with the new version
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[VersionResponse](t, rec)
	assert.True(t, resp.Changed)
	assert.Greater(t, resp.Version, since)
}

func TestVersion_TimesOutUnchanged(t *testing.T) {
	a := newTestAPI(t)
	current := a.eng.Version()

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/version?since=%d&wait=10ms", current), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, VersionResponse{Version: current, Changed: false}, decode[VersionResponse](t, rec))
}

func TestVersion_InvalidParameters(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/version?since=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/version?since=1&wait=soon", nil).Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"inconsistent beats its cause", &timeoff.InconsistencyError{RequestID: "r1", Step: "balance", Err: generic.ErrConcurrentModification}, 500, "INCONSISTENT_STATE"},
		{"tenant not found", fmt.Errorf("load: %w", generic.ErrTenantNotFound), 404, "NOT_FOUND"},
		{"not eligible", &timeoff.NotEligibleError{EmployeeID: "e", Category: timeoff.CategoryAnnual}, 422, "NOT_ELIGIBLE"},
		{"insufficient", &generic.InsufficientBalanceError{Category: "annual"}, 422, "INSUFFICIENT_BALANCE"},
		{"duplicate day", &timeoff.DuplicateDayError{EmployeeID: "e"}, 422, "DUPLICATE_DAY"},
		{"transition", &timeoff.InvalidTransitionError{From: timeoff.StatusDeclined, To: timeoff.StatusApproved}, 409, "INVALID_TRANSITION"},
		{"stale write", generic.ErrConcurrentModification, 409, "CONCURRENT_MODIFICATION"},
		{"shape", &timeoff.RequestShapeError{Field: "partialDayType"}, 400, "VALIDATION_ERROR"},
		{"period", generic.ErrInvalidPeriod, 400, "VALIDATION_ERROR"},
		{"unknown", errors.New("disk on fire"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_HidesInternalMessages(t *testing.T) {
	h := NewHandler(timeoff.NewEngine(memory.New()), logger.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	h.writeError(rec, req, errors.New("connection refused to 10.0.0.3"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")

	rec = httptest.NewRecorder()
	h.writeError(rec, req, &timeoff.InconsistencyError{RequestID: "r1", Step: "balance", Err: generic.ErrConcurrentModification})
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "INCONSISTENT_STATE", resp.Code)
	assert.Contains(t, resp.Error, "rolled back")
}
