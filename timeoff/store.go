/*
store.go - Persistence interfaces for the leave engine

PURPOSE:
  The engine owns no storage. It reads and writes tenants, employees,
  policies, holidays, balance rows, requests and the mutation journal
  through these interfaces, all scoped by tenant.

CONTRACTS:
  CreateBalances:      all rows or none; ErrBalanceExists if any row exists.
  SaveBalance:         compare-and-set on Version; ErrConcurrentModification
                       when the stored version moved.
  UpdateRequestStatus: compare-and-set on status; ErrConcurrentModification
                       when the stored status is not `from`.
  AppendMutation:      ErrDuplicateIdempotencyKey when the key was seen.
  WithTx:              fn's writes commit together or not at all.

IMPLEMENTATIONS:
  - store/memory: snapshot + rollback, for tests and development
  - store/sqlite: sqlx over go-sqlite3
*/
package timeoff

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

type TenantStore interface {
	SaveTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id generic.TenantID) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
}

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, tenant generic.TenantID, id generic.EntityID) (Employee, error)
	ListEmployees(ctx context.Context, tenant generic.TenantID) ([]Employee, error)
}

type PolicyStore interface {
	SavePolicy(ctx context.Context, p LeavePolicy) error
	ListPolicies(ctx context.Context, tenant generic.TenantID) ([]LeavePolicy, error)
}

type HolidayStore interface {
	HolidayReader
	SaveHoliday(ctx context.Context, h Holiday) error
}

type BalanceStore interface {
	ListBalances(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]LeaveBalance, error)
	GetBalance(ctx context.Context, tenant generic.TenantID, employee generic.EntityID, c Category) (LeaveBalance, error)
	CreateBalances(ctx context.Context, rows []LeaveBalance) error
	SaveBalance(ctx context.Context, row LeaveBalance) error
}

type RequestStore interface {
	SaveRequest(ctx context.Context, r LeaveRequest) error
	GetRequest(ctx context.Context, tenant generic.TenantID, id string) (LeaveRequest, error)
	ListRequests(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]LeaveRequest, error)
	UpdateRequestStatus(ctx context.Context, tenant generic.TenantID, id string, from, to RequestStatus, change StatusChange) error
}

type MutationStore interface {
	AppendMutation(ctx context.Context, m BalanceMutation) error
	ListMutations(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]BalanceMutation, error)
}

// Store is every read/write interface the engine needs.
type Store interface {
	TenantStore
	EmployeeStore
	PolicyStore
	HolidayStore
	BalanceStore
	RequestStore
	MutationStore
}

// TxStore adds atomic multi-write support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
