package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE INITIALIZER
// =============================================================================

// Initializer makes sure one balance row exists per registered category
// for an employee. Calls for the same (tenant, employee) are serialized by
// a KeyedGuard; unrelated employees never wait on each other. A completed
// key short-circuits without touching the store. Rows are created in one
// transaction, so either every missing category is created or none is.
type Initializer struct {
	store TxStore
	guard *generic.KeyedGuard
	log   zerolog.Logger
	today func() generic.TimePoint
	newID func() string
}

func NewInitializer(store TxStore, guard *generic.KeyedGuard, log zerolog.Logger, today func() generic.TimePoint, newID func() string) *Initializer {
	return &Initializer{store: store, guard: guard, log: log, today: today, newID: newID}
}

func initKey(tenant generic.TenantID, employee generic.EntityID) string {
	return string(tenant) + "/" + string(employee)
}

// Initialize returns the number of rows it created. A second call for the
// same employee creates zero rows. On failure nothing is created, the
// error is returned and the key stays open for a retry.
func (i *Initializer) Initialize(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) (int, error) {
	created := 0
	ran, err := i.guard.Do(ctx, initKey(tenant, employee), func(ctx context.Context) error {
		created = 0
		return i.store.WithTx(ctx, func(tx Store) error {
			n, err := i.createMissing(ctx, tx, tenant, employee)
			created = n
			return err
		})
	})
	if err != nil {
		i.log.Warn().Err(err).
			Str("tenant_id", string(tenant)).
			Str("employee_id", string(employee)).
			Msg("balance initialisation failed")
		return 0, err
	}
	if ran {
		i.log.Debug().
			Str("tenant_id", string(tenant)).
			Str("employee_id", string(employee)).
			Int("created", created).
			Msg("balances initialised")
	}
	return created, nil
}

func (i *Initializer) createMissing(ctx context.Context, tx Store, tenant generic.TenantID, employee generic.EntityID) (int, error) {
	emp, err := tx.GetEmployee(ctx, tenant, employee)
	if err != nil {
		return 0, err
	}
	existing, err := tx.ListBalances(ctx, tenant, employee)
	if err != nil {
		return 0, err
	}
	have := make(map[Category]bool, len(existing))
	for _, b := range existing {
		have[b.Category] = true
	}
	policyList, err := tx.ListPolicies(ctx, tenant)
	if err != nil {
		return 0, err
	}
	policies := NewPolicySet(policyList)

	today := i.today()
	var rows []LeaveBalance
	var mutations []BalanceMutation
	for _, c := range Categories() {
		if have[c] {
			continue
		}
		row := NewLeaveBalance(tenant, employee, c)
		m := BalanceMutation{
			ID:             i.newID(),
			IdempotencyKey: fmt.Sprintf("init:%s:%s:%s", tenant, employee, c),
			TenantID:       tenant,
			EmployeeID:     employee,
			Category:       c,
			Kind:           MutationInit,
			PendingDelta:   row.UsedPendingHours,
			ApprovedDelta:  row.UsedApprovedHours,
			AdjustedDelta:  row.AdjustedHours,
			AccruedDelta:   row.AccruedHours,
			Reason:         "initial balance",
		}

		// First use seeds accrued hours so the row starts in step with the
		// calculator.
		if p := policies.For(c); p != nil && p.Covers(emp.EmploymentType) {
			acc, err := CalculateAccrual(AccrualInputFor(emp, *p, today))
			if err != nil {
				return 0, err
			}
			row.AccruedHours = acc.AccruedHours.Round(2)
			row.LastCalculatedDate = today
			m.AccruedDelta = row.AccruedHours
			m.EffectiveDate = today
		}
		rows = append(rows, row)
		mutations = append(mutations, m)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := tx.CreateBalances(ctx, rows); err != nil {
		return 0, err
	}
	for _, m := range mutations {
		if err := tx.AppendMutation(ctx, m); err != nil && !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			return 0, err
		}
	}
	return len(rows), nil
}

// Reset clears the completed set. Intended for tests.
func (i *Initializer) Reset() { i.guard.Reset() }
