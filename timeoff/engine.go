/*
engine.go - Facade over the leave balance and accrual engine

PURPOSE:
  Engine is what the rest of the application calls. It wires the store,
  holiday resolver, initializer and version signal together and exposes:

    InitializeBalances(tenant, employee)          -> created count
    GetBalances(tenant, employee, asOf?)          -> BalanceSheet
    CalculateChargeableDays(tenant, range, ...)   -> ChargeableDays
    ValidateCompliance(policies)                  -> []Issue
    OnBalanceChange(callback)                     -> unsubscribe
    SubmitRequest / Approve / Decline / Cancel    (request.go)
    AdjustBalance, RecalculateAccruals, RefreshAllAccruals

VERSION SIGNAL:
  Every balance-affecting mutation bumps the process-wide signal after its
  transaction committed: initialisation, request submitted/approved/
  declined/cancelled, manual adjustment, accrual refresh.

ERRORS:
  Missing tenant or employee fails before any computation. A missing
  policy yields a StatusNoPolicy view rather than an omission. Numeric
  boundary coercions are logged at warn level.

EXAMPLE:
  eng := timeoff.NewEngine(store, timeoff.WithLogger(log.Logger))
  n, err := eng.InitializeBalances(ctx, "t1", "emp-1")
  sheet, err := eng.GetBalances(ctx, "t1", "emp-1", nil)
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store       TxStore
	holidays    *HolidayResolver
	initializer *Initializer
	guard       *generic.KeyedGuard
	signal      *generic.VersionSignal
	log         zerolog.Logger
	clock       func() time.Time
	newID       func() string
}

type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option { return func(e *Engine) { e.log = log } }

// WithClock fixes "now". Tests use it to pin the as-of date.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// WithSignal shares a version signal between engines in one process.
func WithSignal(s *generic.VersionSignal) Option { return func(e *Engine) { e.signal = s } }

func WithGuard(g *generic.KeyedGuard) Option { return func(e *Engine) { e.guard = g } }

func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		signal: generic.NewVersionSignal(),
		guard:  generic.NewKeyedGuard(),
		log:    zerolog.Nop(),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.holidays = NewHolidayResolver(store)
	e.initializer = NewInitializer(store, e.guard, e.log.With().Str("component", "initializer").Logger(), e.today, e.newID)
	return e
}

func (e *Engine) now() time.Time           { return e.clock().UTC() }
func (e *Engine) today() generic.TimePoint { return generic.FromTime(e.now()) }

// Today is the engine clock's current date.
func (e *Engine) Today() generic.TimePoint { return e.today() }

// Signal returns the engine's version signal.
func (e *Engine) Signal() *generic.VersionSignal { return e.signal }

func (e *Engine) Initializer() *Initializer { return e.initializer }

func (e *Engine) bump(tenant generic.TenantID, employee generic.EntityID, c Category, reason string) {
	e.signal.Bump(generic.Change{
		TenantID: tenant,
		EntityID: employee,
		Category: string(c),
		Reason:   reason,
		At:       e.now(),
	})
}

// OnBalanceChange subscribes fn to the version signal.
func (e *Engine) OnBalanceChange(fn func(generic.Change)) (unsubscribe func()) {
	return e.signal.Subscribe(fn)
}

// Version returns the current value of the version signal.
func (e *Engine) Version() uint64 { return e.signal.Version() }

// =============================================================================
// TENANTS, EMPLOYEES, POLICIES, HOLIDAYS
// =============================================================================

func (e *Engine) SaveTenant(ctx context.Context, t Tenant) error {
	if t.ID == "" {
		return &generic.ValidationErrorDetail{Field: "id", Message: "required"}
	}
	return e.store.SaveTenant(ctx, t)
}

func (e *Engine) GetTenant(ctx context.Context, id generic.TenantID) (Tenant, error) {
	return e.store.GetTenant(ctx, id)
}

func (e *Engine) ListTenants(ctx context.Context) ([]Tenant, error) {
	return e.store.ListTenants(ctx)
}

// UpsertEmployee converts a boundary record and stores it. Coercions are
// logged and returned to the caller.
func (e *Engine) UpsertEmployee(ctx context.Context, in EmployeeInput) (Employee, []generic.Coercion, error) {
	if _, err := e.store.GetTenant(ctx, generic.TenantID(in.TenantID)); err != nil {
		return Employee{}, nil, err
	}
	emp, coercions, err := in.ToEmployee()
	for _, c := range coercions {
		e.log.Warn().
			Str("tenant_id", in.TenantID).
			Str("employee_id", in.ID).
			Str("field", c.Field).
			Float64("original", c.Original).
			Str("default", c.Default.String()).
			Msg("coerced invalid numeric input")
	}
	if err != nil {
		return Employee{}, coercions, err
	}
	if err := e.store.SaveEmployee(ctx, emp); err != nil {
		return Employee{}, coercions, err
	}
	e.bump(emp.TenantID, emp.ID, "", "employee_saved")
	return emp, coercions, nil
}

func (e *Engine) GetEmployee(ctx context.Context, tenant generic.TenantID, id generic.EntityID) (Employee, error) {
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return Employee{}, err
	}
	return e.store.GetEmployee(ctx, tenant, id)
}

func (e *Engine) ListEmployees(ctx context.Context, tenant generic.TenantID) ([]Employee, error) {
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return nil, err
	}
	return e.store.ListEmployees(ctx, tenant)
}

// SavePolicy stores a policy and returns the tenant's compliance issues
// after the save. Issues never block the save.
func (e *Engine) SavePolicy(ctx context.Context, p LeavePolicy) ([]Issue, error) {
	if _, err := e.store.GetTenant(ctx, p.TenantID); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = e.newID()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.SavePolicy(ctx, p); err != nil {
		return nil, err
	}
	e.bump(p.TenantID, "", p.Category, "policy_saved")
	return e.ValidateTenantCompliance(ctx, p.TenantID)
}

func (e *Engine) ListPolicies(ctx context.Context, tenant generic.TenantID) ([]LeavePolicy, error) {
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return nil, err
	}
	return e.store.ListPolicies(ctx, tenant)
}

func (e *Engine) SaveHoliday(ctx context.Context, h Holiday) (Holiday, error) {
	if _, err := e.store.GetTenant(ctx, h.TenantID); err != nil {
		return Holiday{}, err
	}
	if h.Date.IsZero() {
		return Holiday{}, &generic.ValidationErrorDetail{Field: "date", Message: "required"}
	}
	if h.ID == "" {
		h.ID = e.newID()
	}
	if err := e.store.SaveHoliday(ctx, h); err != nil {
		return Holiday{}, err
	}
	return h, nil
}

// ResolveHolidays returns the holidays observed in region within period.
func (e *Engine) ResolveHolidays(ctx context.Context, tenant generic.TenantID, region string, period generic.Period) ([]ResolvedHoliday, error) {
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return nil, err
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return e.holidays.Resolve(ctx, tenant, region, period)
}

// =============================================================================
// CHARGEABLE DAYS
// =============================================================================

// CalculateChargeableDays resolves the region's holidays and counts the
// chargeable days of the range. The shape is validated before any lookup.
func (e *Engine) CalculateChargeableDays(ctx context.Context, tenant generic.TenantID, start, end generic.TimePoint, region string, partial PartialDayType) (ChargeableDays, error) {
	period := generic.Period{Start: start, End: end}
	if err := ValidateShape(period, partial); err != nil {
		return ChargeableDays{}, err
	}
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return ChargeableDays{}, err
	}
	return e.chargeable(ctx, tenant, region, period, partial)
}

func (e *Engine) chargeable(ctx context.Context, tenant generic.TenantID, region string, period generic.Period, partial PartialDayType) (ChargeableDays, error) {
	if err := ValidateShape(period, partial); err != nil {
		return ChargeableDays{}, err
	}
	holidays, err := e.holidays.Resolve(ctx, tenant, region, period)
	if err != nil {
		return ChargeableDays{}, err
	}
	return CalculateChargeableDays(period, holidays, partial)
}

// =============================================================================
// COMPLIANCE
// =============================================================================

// ValidateCompliance checks an arbitrary policy set.
func (e *Engine) ValidateCompliance(policies []LeavePolicy) []Issue {
	return ValidateCompliance(policies)
}

// ValidateTenantCompliance checks the tenant's stored policies.
func (e *Engine) ValidateTenantCompliance(ctx context.Context, tenant generic.TenantID) ([]Issue, error) {
	policies, err := e.ListPolicies(ctx, tenant)
	if err != nil {
		return nil, err
	}
	issues := ValidateCompliance(policies)
	if HasErrors(issues) {
		e.log.Info().Str("tenant_id", string(tenant)).Int("issues", len(issues)).Msg("leave policies below statutory minimum")
	}
	return issues, nil
}

// =============================================================================
// BALANCES
// =============================================================================

// InitializeBalances creates the missing balance rows for an employee and
// returns how many it created.
func (e *Engine) InitializeBalances(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (int, error) {
	if _, _, err := e.loadContext(ctx, tenant, employee); err != nil {
		return 0, err
	}
	n, err := e.initializer.Initialize(ctx, tenant, employee)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bump(tenant, employee, "", "balances_initialized")
	}
	return n, nil
}

// GetBalances returns the view of every registered category as of asOf,
// or today when asOf is nil. Balances are initialised lazily.
func (e *Engine) GetBalances(ctx context.Context, tenant generic.TenantID, employee generic.EntityID, asOf *generic.TimePoint) (BalanceSheet, error) {
	emp, policies, err := e.loadContext(ctx, tenant, employee)
	if err != nil {
		return BalanceSheet{}, err
	}
	if _, err := e.InitializeBalances(ctx, tenant, employee); err != nil {
		return BalanceSheet{}, err
	}

	at := e.today()
	if asOf != nil && !asOf.IsZero() {
		at = *asOf
	}
	version := e.signal.Version()

	rows, err := e.store.ListBalances(ctx, tenant, employee)
	if err != nil {
		return BalanceSheet{}, err
	}
	byCategory := make(map[Category]LeaveBalance, len(rows))
	for _, r := range rows {
		byCategory[r.Category] = r
	}

	sheet := BalanceSheet{
		TenantID:   tenant,
		EmployeeID: employee,
		AsOf:       at,
		Version:    version,
		Balances:   make(map[Category]BalanceView),
	}
	for _, c := range Categories() {
		var row *LeaveBalance
		if r, ok := byCategory[c]; ok {
			row = &r
		}
		view, err := Aggregate(emp, c, policies.For(c), row, at)
		if err != nil {
			return BalanceSheet{}, err
		}
		if view.Status == StatusOverdrawn {
			e.log.Warn().
				Str("tenant_id", string(tenant)).
				Str("employee_id", string(employee)).
				Str("category", string(c)).
				Str("as_of", at.Key()).
				Str("overdrawn_hours", view.OverdrawnHours.String()).
				Msg("balance overdrawn")
		}
		sheet.Balances[c] = view
	}
	return sheet, nil
}

// ListMutations returns the employee's balance journal.
func (e *Engine) ListMutations(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]BalanceMutation, error) {
	if _, _, err := e.loadContext(ctx, tenant, employee); err != nil {
		return nil, err
	}
	return e.store.ListMutations(ctx, tenant, employee)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentInput struct {
	TenantID       generic.TenantID
	EmployeeID     generic.EntityID
	Category       Category
	Hours          decimal.Decimal
	Reason         string
	Actor          string
	IdempotencyKey string

	// Override permits the adjustment to take the balance below zero.
	Override bool
}

// AdjustBalance applies a signed manual correction to adjustedHours. A
// replay of the same idempotency key returns the current row unchanged
// with applied=false.
func (e *Engine) AdjustBalance(ctx context.Context, in AdjustmentInput) (row LeaveBalance, applied bool, err error) {
	if !IsRegistered(in.Category) {
		return LeaveBalance{}, false, &RequestShapeError{Field: "category", Reason: fmt.Sprintf("unknown leave category %q", in.Category)}
	}
	if in.Hours.IsZero() {
		return LeaveBalance{}, false, &RequestShapeError{Field: "hours", Reason: "adjustment must be non-zero"}
	}
	if in.Reason == "" {
		return LeaveBalance{}, false, &RequestShapeError{Field: "reason", Reason: "required"}
	}
	_, policies, err := e.loadContext(ctx, in.TenantID, in.EmployeeID)
	if err != nil {
		return LeaveBalance{}, false, err
	}
	if _, err := e.InitializeBalances(ctx, in.TenantID, in.EmployeeID); err != nil {
		return LeaveBalance{}, false, err
	}
	key := in.IdempotencyKey
	if key == "" {
		key = "adjust:" + e.newID()
	}
	allowNegative := false
	if p := policies.For(in.Category); p != nil {
		allowNegative = p.AllowNegative
	}

	m := BalanceMutation{
		IdempotencyKey: key,
		TenantID:       in.TenantID,
		EmployeeID:     in.EmployeeID,
		Category:       in.Category,
		Kind:           MutationAdjust,
		PendingDelta:   decimal.Zero,
		ApprovedDelta:  decimal.Zero,
		AdjustedDelta:  in.Hours,
		AccruedDelta:   decimal.Zero,
		Override:       in.Override,
		Reason:         in.Reason,
		Actor:          in.Actor,
	}
	err = e.store.WithTx(ctx, func(tx Store) error {
		return e.applyMutation(ctx, tx, m, allowNegative)
	})
	switch {
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		row, err := e.store.GetBalance(ctx, in.TenantID, in.EmployeeID, in.Category)
		return row, false, err
	case err != nil:
		return LeaveBalance{}, false, err
	}

	row, err = e.store.GetBalance(ctx, in.TenantID, in.EmployeeID, in.Category)
	if err != nil {
		return LeaveBalance{}, false, err
	}
	e.log.Info().
		Str("tenant_id", string(in.TenantID)).
		Str("employee_id", string(in.EmployeeID)).
		Str("category", string(in.Category)).
		Str("hours", in.Hours.String()).
		Str("actor", in.Actor).
		Msg("balance adjusted")
	e.bump(in.TenantID, in.EmployeeID, in.Category, "balance_adjusted")
	return row, true, nil
}

// =============================================================================
// ACCRUAL REFRESH
// =============================================================================

// RecalculateAccruals stores accrued hours as of asOf for every category
// of the employee. Rows already calculated on or after asOf are left
// alone, so lastCalculatedDate only moves forward. It returns the number
// of rows that changed.
func (e *Engine) RecalculateAccruals(ctx context.Context, tenant generic.TenantID, employee generic.EntityID, asOf generic.TimePoint) (int, error) {
	emp, policies, err := e.loadContext(ctx, tenant, employee)
	if err != nil {
		return 0, err
	}
	if _, err := e.InitializeBalances(ctx, tenant, employee); err != nil {
		return 0, err
	}

	changed := 0
	err = e.store.WithTx(ctx, func(tx Store) error {
		changed = 0
		for _, c := range Categories() {
			p := policies.For(c)
			if p == nil || !p.Covers(emp.EmploymentType) {
				continue
			}
			before, err := tx.GetBalance(ctx, tenant, employee, c)
			if err != nil {
				return err
			}
			if err := e.refreshAccrualTx(ctx, tx, emp, *p, asOf, "scheduler"); err != nil {
				return err
			}
			after, err := tx.GetBalance(ctx, tenant, employee, c)
			if err != nil {
				return err
			}
			if after.Version != before.Version {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		e.bump(tenant, employee, "", "accrual_recalculated")
	}
	return changed, nil
}

// RefreshReport summarises a RefreshAllAccruals run.
type RefreshReport struct {
	AsOf      generic.TimePoint
	Tenants   int
	Employees int
	Updated   int
	Failed    int
}

// RefreshAllAccruals recalculates accruals for every employee of every
// tenant. A failing employee is logged and counted; the run continues.
func (e *Engine) RefreshAllAccruals(ctx context.Context, asOf generic.TimePoint) (RefreshReport, error) {
	report := RefreshReport{AsOf: asOf}
	tenants, err := e.store.ListTenants(ctx)
	if err != nil {
		return report, err
	}
	for _, t := range tenants {
		report.Tenants++
		employees, err := e.store.ListEmployees(ctx, t.ID)
		if err != nil {
			return report, err
		}
		for _, emp := range employees {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Employees++
			n, err := e.RecalculateAccruals(ctx, t.ID, emp.ID, asOf)
			if err != nil {
				report.Failed++
				e.log.Error().Err(err).
					Str("tenant_id", string(t.ID)).
					Str("employee_id", string(emp.ID)).
					Msg("accrual refresh failed")
				continue
			}
			report.Updated += n
		}
	}
	return report, nil
}

// refreshAccrualTx brings one stored row's accrued hours up to asOf. Rows
// already calculated on or after asOf are not touched.
func (e *Engine) refreshAccrualTx(ctx context.Context, tx Store, emp Employee, p LeavePolicy, asOf generic.TimePoint, actor string) error {
	row, err := tx.GetBalance(ctx, emp.TenantID, emp.ID, p.Category)
	if err != nil {
		return err
	}
	if !row.LastCalculatedDate.IsZero() && !asOf.After(row.LastCalculatedDate) {
		return nil
	}
	acc, err := CalculateAccrual(AccrualInputFor(emp, p, asOf))
	if err != nil {
		return err
	}
	m := BalanceMutation{
		IdempotencyKey: fmt.Sprintf("accrual:%s:%s:%s:%s", emp.TenantID, emp.ID, p.Category, asOf),
		TenantID:       emp.TenantID,
		EmployeeID:     emp.ID,
		Category:       p.Category,
		Kind:           MutationAccrual,
		PendingDelta:   decimal.Zero,
		ApprovedDelta:  decimal.Zero,
		AdjustedDelta:  decimal.Zero,
		AccruedDelta:   acc.AccruedHours.Round(2).Sub(row.AccruedHours),
		EffectiveDate:  asOf,
		Reason:         "accrual refresh",
		Actor:          actor,
	}
	// Accrual follows the calculator even when it lowers the balance.
	return e.applyMutation(ctx, tx, m, true)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadContext resolves tenant, employee and the tenant's policies. Missing
// context fails here, before any computation.
func (e *Engine) loadContext(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (Employee, PolicySet, error) {
	if _, err := e.store.GetTenant(ctx, tenant); err != nil {
		return Employee{}, nil, err
	}
	emp, err := e.store.GetEmployee(ctx, tenant, employee)
	if err != nil {
		return Employee{}, nil, err
	}
	policies, err := e.store.ListPolicies(ctx, tenant)
	if err != nil {
		return Employee{}, nil, err
	}
	return emp, NewPolicySet(policies), nil
}

// applyMutation journals m and writes the mutated row. The journal append
// comes first so a replayed idempotency key never touches the row.
func (e *Engine) applyMutation(ctx context.Context, tx Store, m BalanceMutation, allowNegative bool) error {
	if m.ID == "" {
		m.ID = e.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}
	row, err := tx.GetBalance(ctx, m.TenantID, m.EmployeeID, m.Category)
	if err != nil {
		return err
	}
	next, err := m.Apply(row, allowNegative)
	if err != nil {
		return err
	}
	if err := tx.AppendMutation(ctx, m); err != nil {
		return err
	}
	next.UpdatedAt = m.CreatedAt
	return tx.SaveBalance(ctx, next)
}
