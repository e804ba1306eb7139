// Package memory provides an in-memory timeoff.TxStore for tests and
// development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu    sync.RWMutex
	state state

	// FailOn, when set, is consulted before every write. A non-nil error is
	// returned instead of performing the write. Tests use it to inject
	// storage failures.
	FailOn func(op string) error
}

type balanceKey struct {
	tenant   generic.TenantID
	employee generic.EntityID
	category timeoff.Category
}

type employeeKey struct {
	tenant   generic.TenantID
	employee generic.EntityID
}

type state struct {
	tenants     map[generic.TenantID]timeoff.Tenant
	employees   map[employeeKey]timeoff.Employee
	policies    map[generic.TenantID][]timeoff.LeavePolicy
	holidays    map[generic.TenantID][]timeoff.Holiday
	balances    map[balanceKey]timeoff.LeaveBalance
	requests    map[string]timeoff.LeaveRequest
	mutations   []timeoff.BalanceMutation
	idempotency map[string]bool
}

func newState() state {
	return state{
		tenants:     make(map[generic.TenantID]timeoff.Tenant),
		employees:   make(map[employeeKey]timeoff.Employee),
		policies:    make(map[generic.TenantID][]timeoff.LeavePolicy),
		holidays:    make(map[generic.TenantID][]timeoff.Holiday),
		balances:    make(map[balanceKey]timeoff.LeaveBalance),
		requests:    make(map[string]timeoff.LeaveRequest),
		idempotency: make(map[string]bool),
	}
}

func New() *Store {
	return &Store{state: newState()}
}

var _ timeoff.TxStore = (*Store)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error. Writers are serialized for the duration of fn.
func (m *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&view{parent: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = append([]timeoff.LeavePolicy(nil), v...)
	}
	for k, v := range s.holidays {
		c.holidays[k] = append([]timeoff.Holiday(nil), v...)
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.mutations = append([]timeoff.BalanceMutation(nil), s.mutations...)
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// view runs store operations inside WithTx, where the parent lock is
// already held.
type view struct {
	parent *Store
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Store) read(fn func(*view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{parent: m})
}

func (m *Store) write(fn func(*view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{parent: m})
}

func (m *Store) SaveTenant(ctx context.Context, t timeoff.Tenant) error {
	return m.write(func(v *view) error { return v.SaveTenant(ctx, t) })
}

func (m *Store) GetTenant(ctx context.Context, id generic.TenantID) (t timeoff.Tenant, err error) {
	err = m.read(func(v *view) error { t, err = v.GetTenant(ctx, id); return err })
	return t, err
}

func (m *Store) ListTenants(ctx context.Context) (out []timeoff.Tenant, err error) {
	err = m.read(func(v *view) error { out, err = v.ListTenants(ctx); return err })
	return out, err
}

func (m *Store) SaveEmployee(ctx context.Context, e timeoff.Employee) error {
	return m.write(func(v *view) error { return v.SaveEmployee(ctx, e) })
}

func (m *Store) GetEmployee(ctx context.Context, tenant generic.TenantID, id generic.EntityID) (e timeoff.Employee, err error) {
	err = m.read(func(v *view) error { e, err = v.GetEmployee(ctx, tenant, id); return err })
	return e, err
}

func (m *Store) ListEmployees(ctx context.Context, tenant generic.TenantID) (out []timeoff.Employee, err error) {
	err = m.read(func(v *view) error { out, err = v.ListEmployees(ctx, tenant); return err })
	return out, err
}

func (m *Store) SavePolicy(ctx context.Context, p timeoff.LeavePolicy) error {
	return m.write(func(v *view) error { return v.SavePolicy(ctx, p) })
}

func (m *Store) ListPolicies(ctx context.Context, tenant generic.TenantID) (out []timeoff.LeavePolicy, err error) {
	err = m.read(func(v *view) error { out, err = v.ListPolicies(ctx, tenant); return err })
	return out, err
}

func (m *Store) SaveHoliday(ctx context.Context, h timeoff.Holiday) error {
	return m.write(func(v *view) error { return v.SaveHoliday(ctx, h) })
}

func (m *Store) ListHolidays(ctx context.Context, tenant generic.TenantID) (out []timeoff.Holiday, err error) {
	err = m.read(func(v *view) error { out, err = v.ListHolidays(ctx, tenant); return err })
	return out, err
}

func (m *Store) ListBalances(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (out []timeoff.LeaveBalance, err error) {
	err = m.read(func(v *view) error { out, err = v.ListBalances(ctx, tenant, employee); return err })
	return out, err
}

func (m *Store) GetBalance(ctx context.Context, tenant generic.TenantID, employee generic.EntityID, c timeoff.Category) (b timeoff.LeaveBalance, err error) {
	err = m.read(func(v *view) error { b, err = v.GetBalance(ctx, tenant, employee, c); return err })
	return b, err
}

func (m *Store) CreateBalances(ctx context.Context, rows []timeoff.LeaveBalance) error {
	return m.write(func(v *view) error { return v.CreateBalances(ctx, rows) })
}

func (m *Store) SaveBalance(ctx context.Context, row timeoff.LeaveBalance) error {
	return m.write(func(v *view) error { return v.SaveBalance(ctx, row) })
}

func (m *Store) SaveRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	return m.write(func(v *view) error { return v.SaveRequest(ctx, r) })
}

func (m *Store) GetRequest(ctx context.Context, tenant generic.TenantID, id string) (r timeoff.LeaveRequest, err error) {
	err = m.read(func(v *view) error { r, err = v.GetRequest(ctx, tenant, id); return err })
	return r, err
}

func (m *Store) ListRequests(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (out []timeoff.LeaveRequest, err error) {
	err = m.read(func(v *view) error { out, err = v.ListRequests(ctx, tenant, employee); return err })
	return out, err
}

func (m *Store) UpdateRequestStatus(ctx context.Context, tenant generic.TenantID, id string, from, to timeoff.RequestStatus, change timeoff.StatusChange) error {
	return m.write(func(v *view) error { return v.UpdateRequestStatus(ctx, tenant, id, from, to, change) })
}

func (m *Store) AppendMutation(ctx context.Context, mut timeoff.BalanceMutation) error {
	return m.write(func(v *view) error { return v.AppendMutation(ctx, mut) })
}

func (m *Store) ListMutations(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (out []timeoff.BalanceMutation, err error) {
	err = m.read(func(v *view) error { out, err = v.ListMutations(ctx, tenant, employee); return err })
	return out, err
}

// =============================================================================
// UNLOCKED OPERATIONS
// =============================================================================

func (v *view) fail(op string) error {
	if v.parent.FailOn == nil {
		return nil
	}
	return v.parent.FailOn(op)
}

func (v *view) SaveTenant(_ context.Context, t timeoff.Tenant) error {
	if err := v.fail("SaveTenant"); err != nil {
		return err
	}
	v.parent.state.tenants[t.ID] = t
	return nil
}

func (v *view) GetTenant(_ context.Context, id generic.TenantID) (timeoff.Tenant, error) {
	t, ok := v.parent.state.tenants[id]
	if !ok {
		return timeoff.Tenant{}, generic.ErrTenantNotFound
	}
	return t, nil
}

func (v *view) ListTenants(_ context.Context) ([]timeoff.Tenant, error) {
	out := make([]timeoff.Tenant, 0, len(v.parent.state.tenants))
	for _, t := range v.parent.state.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) SaveEmployee(_ context.Context, e timeoff.Employee) error {
	if err := v.fail("SaveEmployee"); err != nil {
		return err
	}
	e.FractionHistory = append([]timeoff.FractionChange(nil), e.FractionHistory...)
	v.parent.state.employees[employeeKey{e.TenantID, e.ID}] = e
	return nil
}

func (v *view) GetEmployee(_ context.Context, tenant generic.TenantID, id generic.EntityID) (timeoff.Employee, error) {
	e, ok := v.parent.state.employees[employeeKey{tenant, id}]
	if !ok {
		return timeoff.Employee{}, generic.ErrEntityNotFound
	}
	return e, nil
}

func (v *view) ListEmployees(_ context.Context, tenant generic.TenantID) ([]timeoff.Employee, error) {
	var out []timeoff.Employee
	for k, e := range v.parent.state.employees {
		if k.tenant == tenant {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) SavePolicy(_ context.Context, p timeoff.LeavePolicy) error {
	if err := v.fail("SavePolicy"); err != nil {
		return err
	}
	list := v.parent.state.policies[p.TenantID]
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p
			return nil
		}
	}
	v.parent.state.policies[p.TenantID] = append(list, p)
	return nil
}

func (v *view) ListPolicies(_ context.Context, tenant generic.TenantID) ([]timeoff.LeavePolicy, error) {
	return append([]timeoff.LeavePolicy(nil), v.parent.state.policies[tenant]...), nil
}

func (v *view) SaveHoliday(_ context.Context, h timeoff.Holiday) error {
	if err := v.fail("SaveHoliday"); err != nil {
		return err
	}
	list := v.parent.state.holidays[h.TenantID]
	for i := range list {
		if list[i].ID == h.ID {
			list[i] = h
			return nil
		}
	}
	v.parent.state.holidays[h.TenantID] = append(list, h)
	return nil
}

func (v *view) ListHolidays(_ context.Context, tenant generic.TenantID) ([]timeoff.Holiday, error) {
	return append([]timeoff.Holiday(nil), v.parent.state.holidays[tenant]...), nil
}

func (v *view) ListBalances(_ context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.LeaveBalance, error) {
	var out []timeoff.LeaveBalance
	for k, b := range v.parent.state.balances {
		if k.tenant == tenant && k.employee == employee {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (v *view) GetBalance(_ context.Context, tenant generic.TenantID, employee generic.EntityID, c timeoff.Category) (timeoff.LeaveBalance, error) {
	b, ok := v.parent.state.balances[balanceKey{tenant, employee, c}]
	if !ok {
		return timeoff.LeaveBalance{}, generic.ErrBalanceNotFound
	}
	return b, nil
}

// CreateBalances inserts every row or none.
func (v *view) CreateBalances(_ context.Context, rows []timeoff.LeaveBalance) error {
	if err := v.fail("CreateBalances"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, ok := v.parent.state.balances[balanceKey{r.TenantID, r.EmployeeID, r.Category}]; ok {
			return generic.ErrBalanceExists
		}
	}
	for _, r := range rows {
		r.Version = 1
		v.parent.state.balances[balanceKey{r.TenantID, r.EmployeeID, r.Category}] = r
	}
	return nil
}

// SaveBalance replaces a row if its Version matches the stored one.
func (v *view) SaveBalance(_ context.Context, row timeoff.LeaveBalance) error {
	if err := v.fail("SaveBalance"); err != nil {
		return err
	}
	k := balanceKey{row.TenantID, row.EmployeeID, row.Category}
	stored, ok := v.parent.state.balances[k]
	if !ok {
		return generic.ErrBalanceNotFound
	}
	if stored.Version != row.Version {
		return generic.ErrConcurrentModification
	}
	row.Version++
	v.parent.state.balances[k] = row
	return nil
}

func (v *view) SaveRequest(_ context.Context, r timeoff.LeaveRequest) error {
	if err := v.fail("SaveRequest"); err != nil {
		return err
	}
	r.Days = append([]timeoff.DayCharge(nil), r.Days...)
	v.parent.state.requests[r.ID] = r
	return nil
}

func (v *view) GetRequest(_ context.Context, tenant generic.TenantID, id string) (timeoff.LeaveRequest, error) {
	r, ok := v.parent.state.requests[id]
	if !ok || r.TenantID != tenant {
		return timeoff.LeaveRequest{}, generic.ErrRequestNotFound
	}
	return r, nil
}

func (v *view) ListRequests(_ context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.LeaveRequest, error) {
	var out []timeoff.LeaveRequest
	for _, r := range v.parent.state.requests {
		if r.TenantID == tenant && (employee == "" || r.EmployeeID == employee) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateRequestStatus moves a request from one status to another only if
// it is still in `from`.
func (v *view) UpdateRequestStatus(_ context.Context, tenant generic.TenantID, id string, from, to timeoff.RequestStatus, change timeoff.StatusChange) error {
	if err := v.fail("UpdateRequestStatus"); err != nil {
		return err
	}
	r, ok := v.parent.state.requests[id]
	if !ok || r.TenantID != tenant {
		return generic.ErrRequestNotFound
	}
	if r.Status != from {
		return generic.ErrConcurrentModification
	}
	at := change.At
	r.Status = to
	r.DecidedAt = &at
	r.DecidedBy = change.Actor
	r.Note = change.Note
	v.parent.state.requests[id] = r
	return nil
}

func (v *view) AppendMutation(_ context.Context, mut timeoff.BalanceMutation) error {
	if err := v.fail("AppendMutation"); err != nil {
		return err
	}
	if mut.IdempotencyKey != "" && v.parent.state.idempotency[mut.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	v.parent.state.mutations = append(v.parent.state.mutations, mut)
	if mut.IdempotencyKey != "" {
		v.parent.state.idempotency[mut.IdempotencyKey] = true
	}
	return nil
}

func (v *view) ListMutations(_ context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.BalanceMutation, error) {
	var out []timeoff.BalanceMutation
	for _, m := range v.parent.state.mutations {
		if m.TenantID == tenant && m.EmployeeID == employee {
			out = append(out, m)
		}
	}
	return out, nil
}
