package timeoff_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// FIXTURE
// =============================================================================

const tenant = generic.TenantID("acme")

type fixture struct {
	ctx   context.Context
	store *memory.Store
	eng   *timeoff.Engine
}

// newFixture returns an engine pinned to 2025-06-30 with the NES presets
// configured for tenant "acme".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: memory.New()}
	f.eng = timeoff.NewEngine(f.store, timeoff.WithClock(func() time.Time {
		return time.Date(2025, time.June, 30, 9, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, f.eng.SaveTenant(f.ctx, timeoff.Tenant{ID: tenant, Name: "Acme", DefaultRegion: "NSW"}))
	for _, p := range timeoff.NESPolicies(tenant) {
		_, err := f.eng.SavePolicy(f.ctx, p)
		require.NoError(t, err)
	}
	return f
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) hire(t *testing.T, id string, empType timeoff.EmploymentType, fraction float64, start string) timeoff.Employee {
	t.Helper()
	emp, _, err := f.eng.UpsertEmployee(f.ctx, timeoff.EmployeeInput{
		ID:                  id,
		TenantID:            string(tenant),
		Name:                id,
		ServiceStartDate:    start,
		EmploymentFraction:  ptr(fraction),
		StandardHoursPerDay: ptr(7.6),
		EmploymentType:      string(empType),
		RegionCode:          "NSW",
	})
	require.NoError(t, err)
	return emp
}

func (f *fixture) balance(t *testing.T, emp generic.EntityID, c timeoff.Category) timeoff.BalanceView {
	t.Helper()
	sheet, err := f.eng.GetBalances(f.ctx, tenant, emp, nil)
	require.NoError(t, err)
	return sheet.Balances[c]
}

func (f *fixture) submit(t *testing.T, emp generic.EntityID, c timeoff.Category, start, end generic.TimePoint, partial timeoff.PartialDayType) timeoff.LeaveRequest {
	t.Helper()
	req, err := f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: emp, Category: c,
		StartDate: start, EndDate: end, PartialDay: partial, Actor: string(emp),
	})
	require.NoError(t, err)
	return req
}

func assertInvariant(t *testing.T, v timeoff.BalanceView) {
	t.Helper()
	expected := v.OpeningBalanceHours.Add(v.AccruedHours).Add(v.AdjustedHours).
		Sub(v.UsedApprovedHours).Sub(v.UsedPendingHours)
	got := v.AvailableHours.Sub(v.OverdrawnHours)
	assert.True(t, got.Equal(expected), "%s: available %s != %s", v.Category, got, expected)
}

// =============================================================================
// INITIALISATION
// =============================================================================

func TestEngine_InitializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")

	// GIVEN: An employee without balance rows
	// WHEN: Initialising twice
	// THEN: The first call creates one row per category, the second none
	n, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rows, err := f.store.ListBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	journal, err := f.eng.ListMutations(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Len(t, journal, 3)
	for _, m := range journal {
		assert.Equal(t, timeoff.MutationInit, m.Kind)
	}
}

func TestEngine_ConcurrentInitializeCreatesOnce(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, total)
	rows, err := f.store.ListBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestEngine_FailedInitializeCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")

	// GIVEN: A store that fails to create rows
	f.store.FailOn = func(op string) error {
		if op == "CreateBalances" {
			return errors.New("disk full")
		}
		return nil
	}

	// WHEN: Initialising
	// THEN: The error surfaces and nothing is created
	_, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.Error(t, err)
	rows, err := f.store.ListBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// WHEN: The store recovers
	// THEN: A retry creates the rows
	f.store.FailOn = nil
	n, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEngine_MissingContextFailsFirst(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.GetBalances(f.ctx, "nobody", "emp-1", nil)
	assert.ErrorIs(t, err, generic.ErrTenantNotFound)

	_, err = f.eng.GetBalances(f.ctx, tenant, "ghost", nil)
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
	assert.True(t, generic.IsNotFound(err))

	// Shape errors are reported before the tenant is looked up.
	monday := date(2025, time.July, 7)
	_, err = f.eng.CalculateChargeableDays(f.ctx, "nobody", monday, monday.AddDays(1), "NSW", timeoff.HalfAM)
	var shapeErr *timeoff.RequestShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

// =============================================================================
// BALANCE VIEWS
// =============================================================================

func TestEngine_BalancesHoldInvariant(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 8), timeoff.FullDay)

	sheet, err := f.eng.GetBalances(f.ctx, tenant, "emp-1", nil)
	require.NoError(t, err)
	require.Len(t, sheet.Balances, 3)
	for _, v := range sheet.Balances {
		assertInvariant(t, v)
		assert.False(t, v.AvailableHours.IsNegative())
	}
	assert.True(t, sheet.Balances[timeoff.CategoryAnnual].UsedPendingHours.Equal(dec("15.2")))
	assert.True(t, sheet.AsOf.Equal(date(2025, time.June, 30)))
}

// approvedFortnight hires a full-timer on 2025-01-01 and approves eight
// days of annual leave from 7 July.
func approvedFortnight(t *testing.T, f *fixture) timeoff.LeaveRequest {
	t.Helper()
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2025-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 16), timeoff.FullDay)
	require.True(t, req.ChargeableHours.Equal(dec("60.8")), req.ChargeableHours.String())
	_, err := f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	require.NoError(t, err)
	return req
}

func TestEngine_PastReferenceDateReportsOverdrawn(t *testing.T) {
	// GIVEN: Eight days approved against accrual earned by 30 June
	f := newFixture(t)
	approvedFortnight(t, f)

	// WHEN: Balances are read as of 1 February, before enough had accrued
	asOf := date(2025, time.February, 1)
	sheet, err := f.eng.GetBalances(f.ctx, tenant, "emp-1", &asOf)

	// THEN: The sheet comes back with the shortfall on the annual view only
	require.NoError(t, err)
	require.Len(t, sheet.Balances, 3)
	annual := sheet.Balances[timeoff.CategoryAnnual]
	assert.Equal(t, timeoff.StatusOverdrawn, annual.Status)
	assert.True(t, annual.AvailableHours.IsZero())
	assert.True(t, annual.AvailableDays.IsZero())
	assert.True(t, annual.OverdrawnHours.IsPositive())
	assert.Contains(t, annual.Message, "exceed")
	assertInvariant(t, annual)

	personal := sheet.Balances[timeoff.CategoryPersonal]
	assert.Equal(t, timeoff.StatusOK, personal.Status)
	assert.True(t, personal.OverdrawnHours.IsZero())
	assertInvariant(t, personal)
	assert.NotEmpty(t, sheet.Balances[timeoff.CategoryLongService].Status)

	// AND: Today's view is unaffected
	today := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.Equal(t, timeoff.StatusOK, today.Status)
	assert.True(t, today.OverdrawnHours.IsZero())
}

func TestEngine_BackdatedFractionCutReportsOverdrawn(t *testing.T) {
	// GIVEN: Eight days approved while full time
	f := newFixture(t)
	approvedFortnight(t, f)

	// WHEN: The employee is corrected to 0.4 FTE from their start date
	f.hire(t, "emp-1", timeoff.FullTime, 0.4, "2025-01-01")

	// THEN: Balances stay readable and show the shortfall
	sheet, err := f.eng.GetBalances(f.ctx, tenant, "emp-1", nil)
	require.NoError(t, err)
	annual := sheet.Balances[timeoff.CategoryAnnual]
	assert.Equal(t, timeoff.StatusOverdrawn, annual.Status)
	assert.True(t, annual.UsedApprovedHours.Equal(dec("60.8")))
	assert.True(t, annual.OverdrawnHours.IsPositive())
	assertInvariant(t, annual)
	assert.Equal(t, timeoff.StatusOK, sheet.Balances[timeoff.CategoryPersonal].Status)

	// AND: New annual leave is refused on the write path
	_, err = f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: "emp-1", Category: timeoff.CategoryAnnual,
		StartDate: date(2025, time.August, 4), EndDate: date(2025, time.August, 4),
		PartialDay: timeoff.FullDay, Actor: "emp-1",
	})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
}

func TestEngine_CasualIsNotApplicable(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "cas-1", timeoff.Casual, 0, "2024-01-01")

	view := f.balance(t, "cas-1", timeoff.CategoryAnnual)
	assert.Equal(t, timeoff.StatusNotApplicable, view.Status)
	assert.False(t, view.Eligible)

	_, err := f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: "cas-1", Category: timeoff.CategoryAnnual,
		StartDate: date(2025, time.July, 7), EndDate: date(2025, time.July, 7),
	})
	var notEligible *timeoff.NotEligibleError
	assert.ErrorAs(t, err, &notEligible)
}

func TestEngine_NoPolicyIsExplicit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.SaveTenant(f.ctx, timeoff.Tenant{ID: "bare", Name: "No policies"}))
	_, _, err := f.eng.UpsertEmployee(f.ctx, timeoff.EmployeeInput{
		ID: "emp-9", TenantID: "bare", ServiceStartDate: "2024-01-01", EmploymentFraction: ptr(1),
	})
	require.NoError(t, err)

	sheet, err := f.eng.GetBalances(f.ctx, "bare", "emp-9", nil)
	require.NoError(t, err)
	for _, c := range []timeoff.Category{timeoff.CategoryAnnual, timeoff.CategoryPersonal, timeoff.CategoryLongService} {
		assert.Equal(t, timeoff.StatusNoPolicy, sheet.Balances[c].Status, c)
	}

	_, err = f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: "bare", EmployeeID: "emp-9", Category: timeoff.CategoryAnnual,
		StartDate: date(2025, time.July, 7), EndDate: date(2025, time.July, 7),
	})
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)
}

func TestEngine_LongServiceWaitingPeriod(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")

	view := f.balance(t, "emp-1", timeoff.CategoryLongService)
	assert.Equal(t, timeoff.StatusOK, view.Status)
	assert.False(t, view.Eligible)
	require.NotNil(t, view.EligibilityDate)
	assert.True(t, view.EligibilityDate.Equal(date(2034, time.January, 1)))
	assert.True(t, view.AccruedHours.IsZero())
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestEngine_ApproveThenCancelRestoresAvailable(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	before := f.balance(t, "emp-1", timeoff.CategoryAnnual)

	// GIVEN: A five day request
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 11), timeoff.FullDay)
	assert.True(t, req.TotalChargeableDays.Equal(decimal.NewFromInt(5)))
	assert.True(t, req.ChargeableHours.Equal(dec("38")))

	pending := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.True(t, pending.UsedPendingHours.Equal(dec("38")))
	assert.True(t, pending.AvailableHours.Equal(before.AvailableHours.Sub(dec("38"))))

	// WHEN: Approved
	// THEN: Hours move from pending to approved; available is unchanged
	approved, err := f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusApproved, approved.Status)
	assert.Equal(t, "manager", approved.DecidedBy)

	afterApprove := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.True(t, afterApprove.UsedPendingHours.IsZero())
	assert.True(t, afterApprove.UsedApprovedHours.Equal(dec("38")))
	assert.True(t, afterApprove.AvailableHours.Equal(pending.AvailableHours))

	// WHEN: Recalled
	// THEN: Available is back where it started
	_, err = f.eng.CancelRequest(f.ctx, tenant, req.ID, "manager", "plans changed")
	require.NoError(t, err)

	after := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.True(t, after.AvailableHours.Equal(before.AvailableHours), "before %s after %s", before.AvailableHours, after.AvailableHours)
	assert.True(t, after.UsedApprovedHours.IsZero())

	stored, err := f.eng.GetRequest(f.ctx, tenant, req.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusCancelled, stored.Status)
	assert.Equal(t, "plans changed", stored.Note)
}

func TestEngine_DeclineReleasesPending(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryPersonal, date(2025, time.July, 7), date(2025, time.July, 7), timeoff.FullDay)

	_, err := f.eng.DeclineRequest(f.ctx, tenant, req.ID, "manager", "short staffed")
	require.NoError(t, err)

	view := f.balance(t, "emp-1", timeoff.CategoryPersonal)
	assert.True(t, view.UsedPendingHours.IsZero())
	assert.True(t, view.UsedApprovedHours.IsZero())

	// The day is free again once the request is no longer active.
	f.submit(t, "emp-1", timeoff.CategoryPersonal, date(2025, time.July, 7), date(2025, time.July, 7), timeoff.FullDay)
}

func TestEngine_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 7), timeoff.FullDay)
	_, err := f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	require.NoError(t, err)

	_, err = f.eng.DeclineRequest(f.ctx, tenant, req.ID, "manager", "")
	var transitionErr *timeoff.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, timeoff.StatusApproved, transitionErr.From)

	_, err = f.eng.CancelRequest(f.ctx, tenant, req.ID, "manager", "")
	require.NoError(t, err)
	_, err = f.eng.CancelRequest(f.ctx, tenant, req.ID, "manager", "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = f.eng.ApproveRequest(f.ctx, tenant, "missing", "manager")
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
}

func TestEngine_TransitionFailureIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 8), timeoff.FullDay)

	// GIVEN: The status write succeeds but the balance write fails
	f.store.FailOn = func(op string) error {
		if op == "SaveBalance" {
			return errors.New("connection reset")
		}
		return nil
	}

	// WHEN: Approving
	// THEN: An inconsistency is reported and both halves are rolled back
	_, err := f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	var inconsistent *timeoff.InconsistencyError
	require.ErrorAs(t, err, &inconsistent)
	assert.ErrorIs(t, err, generic.ErrInconsistentState)
	assert.Equal(t, req.ID, inconsistent.RequestID)

	f.store.FailOn = nil
	stored, err := f.eng.GetRequest(f.ctx, tenant, req.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, stored.Status)
	view := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.True(t, view.UsedPendingHours.Equal(dec("15.2")))
	assert.True(t, view.UsedApprovedHours.IsZero())

	// THEN: The request can still be approved once the store recovers
	_, err = f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	require.NoError(t, err)
}

func TestEngine_HalfDaysAcrossRequests(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	monday := date(2025, time.July, 14)

	// GIVEN: AM and PM of the same day in separate requests
	am := f.submit(t, "emp-1", timeoff.CategoryAnnual, monday, monday, timeoff.HalfAM)
	pm := f.submit(t, "emp-1", timeoff.CategoryAnnual, monday, monday, timeoff.HalfPM)
	for _, r := range []timeoff.LeaveRequest{am, pm} {
		_, err := f.eng.ApproveRequest(f.ctx, tenant, r.ID, "manager")
		require.NoError(t, err)
	}

	// THEN: Together they consume exactly one day
	view := f.balance(t, "emp-1", timeoff.CategoryAnnual)
	assert.True(t, view.UsedApprovedHours.Equal(dec("7.6")))

	requests, err := f.eng.ListRequests(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	book, err := timeoff.NewDayBookFromRequests("emp-1", requests)
	require.NoError(t, err)
	assert.True(t, book.Consumed(monday).Equal(decimal.NewFromInt(1)))

	// WHEN: Another request touches the same day, in any category
	// THEN: It is rejected as a duplicate
	_, err = f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: "emp-1", Category: timeoff.CategoryPersonal,
		StartDate: monday, EndDate: monday, PartialDay: timeoff.HalfAM,
	})
	var dup *timeoff.DuplicateDayError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, am.ID, dup.ExistingRequestID)
}

func TestEngine_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "new-1", timeoff.PartTime, 0.5, "2025-06-01")

	_, err := f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: "new-1", Category: timeoff.CategoryAnnual,
		StartDate: date(2025, time.July, 7), EndDate: date(2025, time.July, 18),
	})
	var insufficient *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.True(t, insufficient.Requested.Value.Equal(dec("76")), "10 days at 7.6h")

	requests, err := f.eng.ListRequests(f.ctx, tenant, "new-1")
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestEngine_ZeroChargeableRequestRejected(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")

	_, err := f.eng.SubmitRequest(f.ctx, timeoff.SubmitInput{
		TenantID: tenant, EmployeeID: "emp-1", Category: timeoff.CategoryAnnual,
		StartDate: date(2025, time.July, 5), EndDate: date(2025, time.July, 6),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidRequest)
}

func TestEngine_RevalidateDetectsHolidayDrift(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 11), timeoff.FullDay)

	check, err := f.eng.RevalidateRequest(f.ctx, tenant, req.ID)
	require.NoError(t, err)
	assert.True(t, check.UpToDate)

	// GIVEN: A holiday added after submission
	_, err = f.eng.SaveHoliday(f.ctx, timeoff.Holiday{TenantID: tenant, RegionCode: "NSW", Date: date(2025, time.July, 9), Name: "Snap holiday"})
	require.NoError(t, err)

	// THEN: The drift is reported and the cached figure is untouched
	check, err = f.eng.RevalidateRequest(f.ctx, tenant, req.ID)
	require.NoError(t, err)
	assert.False(t, check.UpToDate)
	assert.True(t, check.CurrentDays.Equal(decimal.NewFromInt(4)))
	assert.True(t, check.Drift.Equal(decimal.NewFromInt(-1)))
	require.Len(t, check.HolidayDetails, 1)

	stored, err := f.eng.GetRequest(f.ctx, tenant, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalChargeableDays.Equal(decimal.NewFromInt(5)))
}

func TestEngine_RevalidateHalfDayNowOnHoliday(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	tuesday := date(2025, time.July, 8)
	req := f.submit(t, "emp-1", timeoff.CategoryPersonal, tuesday, tuesday, timeoff.HalfAM)

	// GIVEN: A holiday declared on the day of a stored half day
	_, err := f.eng.SaveHoliday(f.ctx, timeoff.Holiday{TenantID: tenant, RegionCode: "NSW", Date: tuesday, Name: "Snap holiday"})
	require.NoError(t, err)

	// WHEN: The request is re-validated
	check, err := f.eng.RevalidateRequest(f.ctx, tenant, req.ID)

	// THEN: It is still readable and reports the whole half day as drift
	require.NoError(t, err)
	assert.False(t, check.UpToDate)
	assert.True(t, check.CachedDays.Equal(dec("0.5")))
	assert.True(t, check.CurrentDays.IsZero())
	assert.True(t, check.CurrentHours.IsZero())
	assert.True(t, check.Drift.Equal(dec("-0.5")))
	require.Len(t, check.HolidayDetails, 1)
	assert.Equal(t, "Snap holiday", check.HolidayDetails[0].Name)

	// AND: A new half day on that date is still rejected
	_, err = f.eng.CalculateChargeableDays(f.ctx, tenant, tuesday, tuesday, "NSW", timeoff.HalfPM)
	assert.ErrorIs(t, err, generic.ErrInvalidRequest)
}

// =============================================================================
// VERSION SIGNAL
// =============================================================================

func TestEngine_MutationsBumpVersion(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	_, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)

	var mu sync.Mutex
	var reasons []string
	unsubscribe := f.eng.OnBalanceChange(func(c generic.Change) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, c.Reason)
	})
	defer unsubscribe()

	start := f.eng.Version()
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 7), timeoff.FullDay)
	afterSubmit := f.eng.Version()
	assert.Greater(t, afterSubmit, start)

	_, err = f.eng.ApproveRequest(f.ctx, tenant, req.ID, "manager")
	require.NoError(t, err)
	assert.Greater(t, f.eng.Version(), afterSubmit)

	sheet, err := f.eng.GetBalances(f.ctx, tenant, "emp-1", nil)
	require.NoError(t, err)
	assert.Equal(t, f.eng.Version(), sheet.Version)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"request_submitted", "request_approved"}, reasons)
}

func TestEngine_FailedTransitionDoesNotBump(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	req := f.submit(t, "emp-1", timeoff.CategoryAnnual, date(2025, time.July, 7), date(2025, time.July, 7), timeoff.FullDay)

	v := f.eng.Version()
	f.store.FailOn = func(op string) error {
		if op == "AppendMutation" {
			return errors.New("journal unavailable")
		}
		return nil
	}
	_, err := f.eng.CancelRequest(f.ctx, tenant, req.ID, "emp-1", "")
	assert.ErrorIs(t, err, generic.ErrInconsistentState)
	assert.Equal(t, v, f.eng.Version())
}

// =============================================================================
// ADJUSTMENTS + ACCRUAL REFRESH
// =============================================================================

func TestEngine_AdjustmentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	in := timeoff.AdjustmentInput{
		TenantID: tenant, EmployeeID: "emp-1", Category: timeoff.CategoryAnnual,
		Hours: dec("7.6"), Reason: "carry over", Actor: "payroll", IdempotencyKey: "carry-2025",
	}

	row, applied, err := f.eng.AdjustBalance(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, row.AdjustedHours.Equal(dec("7.6")))

	row, applied, err = f.eng.AdjustBalance(f.ctx, in)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, row.AdjustedHours.Equal(dec("7.6")))
}

func TestEngine_NegativeAdjustmentNeedsOverride(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	in := timeoff.AdjustmentInput{
		TenantID: tenant, EmployeeID: "emp-1", Category: timeoff.CategoryPersonal,
		Hours: dec("-1000"), Reason: "correction",
	}

	_, _, err := f.eng.AdjustBalance(f.ctx, in)
	assert.ErrorIs(t, err, generic.ErrNegativeBalance)

	in.Override = true
	_, applied, err := f.eng.AdjustBalance(f.ctx, in)
	require.NoError(t, err)
	assert.True(t, applied)

	view := f.balance(t, "emp-1", timeoff.CategoryPersonal)
	assert.True(t, view.AvailableHours.IsNegative())
	assertInvariant(t, view)
}

func TestEngine_RecalculateMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	_, err := f.eng.InitializeBalances(f.ctx, tenant, "emp-1")
	require.NoError(t, err)
	seeded, err := f.store.GetBalance(f.ctx, tenant, "emp-1", timeoff.CategoryAnnual)
	require.NoError(t, err)
	assert.True(t, seeded.LastCalculatedDate.Equal(date(2025, time.June, 30)))

	// An earlier as-of date leaves every row alone.
	n, err := f.eng.RecalculateAccruals(f.ctx, tenant, "emp-1", date(2025, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.eng.RecalculateAccruals(f.ctx, tenant, "emp-1", date(2025, time.July, 31))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	row, err := f.store.GetBalance(f.ctx, tenant, "emp-1", timeoff.CategoryAnnual)
	require.NoError(t, err)
	assert.True(t, row.LastCalculatedDate.Equal(date(2025, time.July, 31)))
	assert.True(t, row.AccruedHours.GreaterThan(seeded.AccruedHours))

	// Same date again is a no-op.
	n, err = f.eng.RecalculateAccruals(f.ctx, tenant, "emp-1", date(2025, time.July, 31))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_RefreshAllAccruals(t *testing.T) {
	f := newFixture(t)
	f.hire(t, "emp-1", timeoff.FullTime, 1, "2024-01-01")
	f.hire(t, "emp-2", timeoff.PartTime, 0.6, "2024-03-01")
	f.hire(t, "cas-1", timeoff.Casual, 0, "2024-03-01")

	report, err := f.eng.RefreshAllAccruals(f.ctx, date(2025, time.July, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tenants)
	assert.Equal(t, 3, report.Employees)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 6, report.Updated, "casual rows are never refreshed")
}

// =============================================================================
// BOUNDARY INPUT + COMPLIANCE
// =============================================================================

func TestEngine_UpsertEmployeeCoercesInvalidNumbers(t *testing.T) {
	f := newFixture(t)

	emp, coercions, err := f.eng.UpsertEmployee(f.ctx, timeoff.EmployeeInput{
		ID:                  "emp-nan",
		TenantID:            string(tenant),
		ServiceStartDate:    "2024-01-01",
		EmploymentFraction:  ptr(math.NaN()),
		StandardHoursPerDay: ptr(-3),
	})
	require.NoError(t, err)
	assert.True(t, emp.EmploymentFraction.IsZero())
	assert.True(t, emp.StandardHoursPerDay.Equal(dec("7.6")))
	assert.Equal(t, timeoff.FullTime, emp.EmploymentType)

	fields := make([]string, 0, len(coercions))
	for _, c := range coercions {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []string{"employmentFraction", "standardHoursPerDay"}, fields)

	// Zero fraction accrues nothing rather than failing.
	view := f.balance(t, "emp-nan", timeoff.CategoryAnnual)
	assert.True(t, view.AccruedHours.IsZero())
}

func TestEngine_SavePolicyReportsCompliance(t *testing.T) {
	f := newFixture(t)

	issues, err := f.eng.ValidateTenantCompliance(f.ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, issues)

	stingy := timeoff.NESAnnualPolicy(tenant)
	stingy.ID = "stingy"
	stingy.AccrualRateHoursPerDay = timeoff.RateFromAnnualHours(dec("76"))
	require.NoError(t, f.eng.SaveTenant(f.ctx, timeoff.Tenant{ID: "other"}))
	stingy.TenantID = "other"

	issues, err = f.eng.SavePolicy(f.ctx, stingy)
	require.NoError(t, err, "non-compliant policies are still saved")
	assert.True(t, timeoff.HasErrors(issues))
	assert.Equal(t, timeoff.SeverityError, issues[0].Severity)
}
