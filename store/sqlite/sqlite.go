/*
Package sqlite provides a SQLite-backed implementation of timeoff.TxStore.

PURPOSE:
  Persists tenants, employees, policies, holidays, balance rows, leave
  requests and the balance mutation journal. Queries go through sqlx; the
  driver is go-sqlite3. The same schema runs on PostgreSQL with minor
  dialect changes.

KEY TABLES:
  tenants:           Tenant scope, default holiday region
  employees:         Employee records; fraction history as JSON
  policies:          Leave policies stored as factory JSON (config_json)
  holidays:          Entity-wide (region '') and regional holidays
  leave_balances:    One row per (tenant, employee, category), versioned
  leave_requests:    Requests with cached chargeable days (days_json)
  balance_mutations: Journal; idempotency_key is UNIQUE

CONCURRENCY:
  leave_balances.version is compare-and-set: an UPDATE only applies when
  the version still matches. leave_requests.status is compare-and-set the
  same way. WithTx serializes writers in-process; SQLite allows a single
  writer anyway.

WAL MODE:
  Files are opened with WAL so readers don't block the writer.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  eng := timeoff.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - timeoff/store.go: Interface definitions and contracts
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// Store implements timeoff.TxStore using SQLite.
type Store struct {
	repo
	db *sqlx.DB
	mu sync.Mutex
}

var _ timeoff.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives as long as its one connection.
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing connection without migrating it.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		repo: repo{q: db, db: db, policies: factory.NewPolicyFactory()},
		db:   db,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		default_region TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS employees (
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		service_start_date TEXT NOT NULL,
		employment_fraction TEXT NOT NULL,
		standard_hours_per_day TEXT NOT NULL,
		employment_type TEXT NOT NULL,
		region_code TEXT NOT NULL DEFAULT '',
		fraction_history_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		category TEXT NOT NULL,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_tenant
		ON policies(tenant_id);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		region_code TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_tenant_date
		ON holidays(tenant_id, date);

	CREATE TABLE IF NOT EXISTS leave_balances (
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		opening_balance_hours TEXT NOT NULL,
		accrued_hours TEXT NOT NULL,
		adjusted_hours TEXT NOT NULL,
		used_approved_hours TEXT NOT NULL,
		used_pending_hours TEXT NOT NULL,
		last_calculated_date TEXT NOT NULL DEFAULT '',
		allow_negative BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, employee_id, category),
		FOREIGN KEY (tenant_id, employee_id) REFERENCES employees(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		partial_day TEXT NOT NULL,
		status TEXT NOT NULL,
		total_chargeable_days TEXT NOT NULL,
		chargeable_hours TEXT NOT NULL,
		days_json TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		submitted_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (tenant_id, employee_id) REFERENCES employees(tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(tenant_id, employee_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(status);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS balance_mutations (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL,
		pending_delta TEXT NOT NULL,
		approved_delta TEXT NOT NULL,
		adjusted_delta TEXT NOT NULL,
		accrued_delta TEXT NOT NULL,
		effective_date TEXT NOT NULL DEFAULT '',
		override BOOLEAN NOT NULL DEFAULT FALSE,
		request_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mutations_employee
		ON balance_mutations(tenant_id, employee_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(timeoff.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{q: tx, policies: s.policies}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repo runs every query against q, either the database or an open
// transaction. db is nil inside WithTx.
type repo struct {
	q        sqlx.ExtContext
	db       *sqlx.DB
	policies *factory.PolicyFactory
}

// atomic runs fn in a transaction unless the repo already is one.
func (r *repo) atomic(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if r.db == nil {
		return fn(r.q)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// TENANTS
// =============================================================================

type tenantRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	DefaultRegion string `db:"default_region"`
}

func (r *repo) SaveTenant(ctx context.Context, t timeoff.Tenant) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO tenants (id, name, default_region) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, default_region = excluded.default_region
	`, t.ID, t.Name, t.DefaultRegion)
	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

func (r *repo) GetTenant(ctx context.Context, id generic.TenantID) (timeoff.Tenant, error) {
	var row tenantRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, name, default_region FROM tenants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.Tenant{}, generic.ErrTenantNotFound
	}
	if err != nil {
		return timeoff.Tenant{}, fmt.Errorf("failed to get tenant: %w", err)
	}
	return timeoff.Tenant{ID: generic.TenantID(row.ID), Name: row.Name, DefaultRegion: row.DefaultRegion}, nil
}

func (r *repo) ListTenants(ctx context.Context) ([]timeoff.Tenant, error) {
	var rows []tenantRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT id, name, default_region FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	out := make([]timeoff.Tenant, 0, len(rows))
	for _, row := range rows {
		out = append(out, timeoff.Tenant{ID: generic.TenantID(row.ID), Name: row.Name, DefaultRegion: row.DefaultRegion})
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type employeeRow struct {
	TenantID            string `db:"tenant_id"`
	ID                  string `db:"id"`
	Name                string `db:"name"`
	ServiceStartDate    string `db:"service_start_date"`
	EmploymentFraction  string `db:"employment_fraction"`
	StandardHoursPerDay string `db:"standard_hours_per_day"`
	EmploymentType      string `db:"employment_type"`
	RegionCode          string `db:"region_code"`
	FractionHistoryJSON string `db:"fraction_history_json"`
}

type fractionJSON struct {
	EffectiveFrom       generic.TimePoint `json:"effectiveFrom"`
	Fraction            decimal.Decimal   `json:"fraction"`
	StandardHoursPerDay decimal.Decimal   `json:"standardHoursPerDay"`
}

const employeeColumns = `tenant_id, id, name, service_start_date, employment_fraction,
	standard_hours_per_day, employment_type, region_code, fraction_history_json`

func (r *repo) SaveEmployee(ctx context.Context, e timeoff.Employee) error {
	history := make([]fractionJSON, 0, len(e.FractionHistory))
	for _, h := range e.FractionHistory {
		history = append(history, fractionJSON{h.EffectiveFrom, h.Fraction, h.StandardHoursPerDay})
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			service_start_date = excluded.service_start_date,
			employment_fraction = excluded.employment_fraction,
			standard_hours_per_day = excluded.standard_hours_per_day,
			employment_type = excluded.employment_type,
			region_code = excluded.region_code,
			fraction_history_json = excluded.fraction_history_json
	`,
		e.TenantID, e.ID, e.Name, e.ServiceStartDate.Key(),
		e.EmploymentFraction.String(), e.StandardHoursPerDay.String(),
		e.EmploymentType, e.RegionCode, string(historyJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (r *repo) GetEmployee(ctx context.Context, tenant generic.TenantID, id generic.EntityID) (timeoff.Employee, error) {
	var row employeeRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+employeeColumns+` FROM employees WHERE tenant_id = ? AND id = ?`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.Employee{}, generic.ErrEntityNotFound
	}
	if err != nil {
		return timeoff.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return row.toEmployee()
}

func (r *repo) ListEmployees(ctx context.Context, tenant generic.TenantID) ([]timeoff.Employee, error) {
	var rows []employeeRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT `+employeeColumns+` FROM employees WHERE tenant_id = ? ORDER BY id`, tenant); err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	out := make([]timeoff.Employee, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEmployee()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (row employeeRow) toEmployee() (timeoff.Employee, error) {
	start, err := generic.ParseDate(row.ServiceStartDate)
	if err != nil {
		return timeoff.Employee{}, fmt.Errorf("employee %s: %w", row.ID, err)
	}
	var history []fractionJSON
	if err := json.Unmarshal([]byte(row.FractionHistoryJSON), &history); err != nil {
		return timeoff.Employee{}, fmt.Errorf("employee %s: fraction history: %w", row.ID, err)
	}
	e := timeoff.Employee{
		ID:                  generic.EntityID(row.ID),
		TenantID:            generic.TenantID(row.TenantID),
		Name:                row.Name,
		ServiceStartDate:    start,
		EmploymentFraction:  parseDecimal(row.EmploymentFraction),
		StandardHoursPerDay: parseDecimal(row.StandardHoursPerDay),
		EmploymentType:      timeoff.EmploymentType(row.EmploymentType),
		RegionCode:          row.RegionCode,
	}
	for _, h := range history {
		e.FractionHistory = append(e.FractionHistory, timeoff.FractionChange{
			EffectiveFrom:       h.EffectiveFrom,
			Fraction:            h.Fraction,
			StandardHoursPerDay: h.StandardHoursPerDay,
		})
	}
	return e, nil
}

// =============================================================================
// POLICIES
// =============================================================================

type policyRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	ConfigJSON string `db:"config_json"`
}

func (r *repo) SavePolicy(ctx context.Context, p timeoff.LeavePolicy) error {
	config, err := r.policies.MarshalPolicy(p)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO policies (id, tenant_id, category, name, config_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			name = excluded.name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, p.ID, p.TenantID, p.Category, p.Name, string(config), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// ListPolicies returns the tenant's policies in insertion order.
func (r *repo) ListPolicies(ctx context.Context, tenant generic.TenantID) ([]timeoff.LeavePolicy, error) {
	var rows []policyRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT id, tenant_id, config_json FROM policies WHERE tenant_id = ? ORDER BY rowid`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	out := make([]timeoff.LeavePolicy, 0, len(rows))
	for _, row := range rows {
		p, err := r.policies.ParsePolicy([]byte(row.ConfigJSON))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", row.ID, err)
		}
		p.ID = row.ID
		p.TenantID = generic.TenantID(row.TenantID)
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type holidayRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	RegionCode string `db:"region_code"`
	Date       string `db:"date"`
	Name       string `db:"name"`
	Recurring  bool   `db:"recurring"`
}

func (r *repo) SaveHoliday(ctx context.Context, h timeoff.Holiday) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO holidays (id, tenant_id, region_code, date, name, recurring)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region_code = excluded.region_code,
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`, h.ID, h.TenantID, h.RegionCode, h.Date.Key(), h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

func (r *repo) ListHolidays(ctx context.Context, tenant generic.TenantID) ([]timeoff.Holiday, error) {
	var rows []holidayRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, tenant_id, region_code, date, name, recurring
		FROM holidays WHERE tenant_id = ? ORDER BY date, id
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	out := make([]timeoff.Holiday, 0, len(rows))
	for _, row := range rows {
		d, err := generic.ParseDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %s: %w", row.ID, err)
		}
		out = append(out, timeoff.Holiday{
			ID:         row.ID,
			TenantID:   generic.TenantID(row.TenantID),
			RegionCode: row.RegionCode,
			Date:       d,
			Name:       row.Name,
			Recurring:  row.Recurring,
		})
	}
	return out, nil
}

// =============================================================================
// BALANCES
// =============================================================================

type balanceRow struct {
	TenantID            string `db:"tenant_id"`
	EmployeeID          string `db:"employee_id"`
	Category            string `db:"category"`
	OpeningBalanceHours string `db:"opening_balance_hours"`
	AccruedHours        string `db:"accrued_hours"`
	AdjustedHours       string `db:"adjusted_hours"`
	UsedApprovedHours   string `db:"used_approved_hours"`
	UsedPendingHours    string `db:"used_pending_hours"`
	LastCalculatedDate  string `db:"last_calculated_date"`
	AllowNegative       bool   `db:"allow_negative"`
	Version             int64  `db:"version"`
	CreatedAt           string `db:"created_at"`
	UpdatedAt           string `db:"updated_at"`
}

const balanceColumns = `tenant_id, employee_id, category, opening_balance_hours, accrued_hours,
	adjusted_hours, used_approved_hours, used_pending_hours, last_calculated_date,
	allow_negative, version, created_at, updated_at`

func (r *repo) ListBalances(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.LeaveBalance, error) {
	var rows []balanceRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+balanceColumns+` FROM leave_balances
		WHERE tenant_id = ? AND employee_id = ? ORDER BY category
	`, tenant, employee)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	out := make([]timeoff.LeaveBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toBalance())
	}
	return out, nil
}

func (r *repo) GetBalance(ctx context.Context, tenant generic.TenantID, employee generic.EntityID, c timeoff.Category) (timeoff.LeaveBalance, error) {
	var row balanceRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT `+balanceColumns+` FROM leave_balances
		WHERE tenant_id = ? AND employee_id = ? AND category = ?
	`, tenant, employee, c)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.LeaveBalance{}, generic.ErrBalanceNotFound
	}
	if err != nil {
		return timeoff.LeaveBalance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	return row.toBalance(), nil
}

// CreateBalances inserts every row or none. New rows start at version 1.
func (r *repo) CreateBalances(ctx context.Context, rows []timeoff.LeaveBalance) error {
	now := formatTime(time.Now())
	return r.atomic(ctx, func(q sqlx.ExtContext) error {
		for _, b := range rows {
			_, err := q.ExecContext(ctx, `
				INSERT INTO leave_balances (`+balanceColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			`,
				b.TenantID, b.EmployeeID, b.Category,
				b.OpeningBalanceHours.String(), b.AccruedHours.String(), b.AdjustedHours.String(),
				b.UsedApprovedHours.String(), b.UsedPendingHours.String(),
				dateKey(b.LastCalculatedDate), b.AllowNegative, now, now,
			)
			if isUniqueConstraintError(err) {
				return generic.ErrBalanceExists
			}
			if err != nil {
				return fmt.Errorf("failed to create balance: %w", err)
			}
		}
		return nil
	})
}

// SaveBalance writes row if its Version still matches the stored one.
func (r *repo) SaveBalance(ctx context.Context, b timeoff.LeaveBalance) error {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE leave_balances SET
			opening_balance_hours = ?,
			accrued_hours = ?,
			adjusted_hours = ?,
			used_approved_hours = ?,
			used_pending_hours = ?,
			last_calculated_date = ?,
			allow_negative = ?,
			version = version + 1,
			updated_at = ?
		WHERE tenant_id = ? AND employee_id = ? AND category = ? AND version = ?
	`,
		b.OpeningBalanceHours.String(), b.AccruedHours.String(), b.AdjustedHours.String(),
		b.UsedApprovedHours.String(), b.UsedPendingHours.String(),
		dateKey(b.LastCalculatedDate), b.AllowNegative, formatTime(updatedAt),
		b.TenantID, b.EmployeeID, b.Category, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetBalance(ctx, b.TenantID, b.EmployeeID, b.Category); err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}
	return nil
}

func (row balanceRow) toBalance() timeoff.LeaveBalance {
	last, _ := generic.ParseDate(row.LastCalculatedDate)
	return timeoff.LeaveBalance{
		TenantID:            generic.TenantID(row.TenantID),
		EmployeeID:          generic.EntityID(row.EmployeeID),
		Category:            timeoff.Category(row.Category),
		OpeningBalanceHours: parseDecimal(row.OpeningBalanceHours),
		AccruedHours:        parseDecimal(row.AccruedHours),
		AdjustedHours:       parseDecimal(row.AdjustedHours),
		UsedApprovedHours:   parseDecimal(row.UsedApprovedHours),
		UsedPendingHours:    parseDecimal(row.UsedPendingHours),
		LastCalculatedDate:  last,
		AllowNegative:       row.AllowNegative,
		Version:             row.Version,
		CreatedAt:           parseTime(row.CreatedAt),
		UpdatedAt:           parseTime(row.UpdatedAt),
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

type requestRow struct {
	ID                  string         `db:"id"`
	TenantID            string         `db:"tenant_id"`
	EmployeeID          string         `db:"employee_id"`
	Category            string         `db:"category"`
	StartDate           string         `db:"start_date"`
	EndDate             string         `db:"end_date"`
	PartialDay          string         `db:"partial_day"`
	Status              string         `db:"status"`
	TotalChargeableDays string         `db:"total_chargeable_days"`
	ChargeableHours     string         `db:"chargeable_hours"`
	DaysJSON            string         `db:"days_json"`
	Reason              string         `db:"reason"`
	SubmittedAt         string         `db:"submitted_at"`
	DecidedAt           sql.NullString `db:"decided_at"`
	DecidedBy           string         `db:"decided_by"`
	Note                string         `db:"note"`
}

const requestColumns = `id, tenant_id, employee_id, category, start_date, end_date, partial_day,
	status, total_chargeable_days, chargeable_hours, days_json, reason, submitted_at,
	decided_at, decided_by, note`

func (r *repo) SaveRequest(ctx context.Context, req timeoff.LeaveRequest) error {
	days, err := json.Marshal(req.Days)
	if err != nil {
		return err
	}
	var decidedAt sql.NullString
	if req.DecidedAt != nil {
		decidedAt = nullString(formatTime(*req.DecidedAt))
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_chargeable_days = excluded.total_chargeable_days,
			chargeable_hours = excluded.chargeable_hours,
			days_json = excluded.days_json,
			reason = excluded.reason,
			decided_at = excluded.decided_at,
			decided_by = excluded.decided_by,
			note = excluded.note
	`,
		req.ID, req.TenantID, req.EmployeeID, req.Category,
		req.StartDate.Key(), req.EndDate.Key(), req.PartialDay, req.Status,
		req.TotalChargeableDays.String(), req.ChargeableHours.String(), string(days),
		req.Reason, formatTime(req.SubmittedAt), decidedAt, req.DecidedBy, req.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (r *repo) GetRequest(ctx context.Context, tenant generic.TenantID, id string) (timeoff.LeaveRequest, error) {
	var row requestRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+requestColumns+` FROM leave_requests WHERE tenant_id = ? AND id = ?`, tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return timeoff.LeaveRequest{}, generic.ErrRequestNotFound
	}
	if err != nil {
		return timeoff.LeaveRequest{}, fmt.Errorf("failed to get request: %w", err)
	}
	return row.toRequest()
}

// ListRequests returns the employee's requests, or every request of the
// tenant when employee is empty.
func (r *repo) ListRequests(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE tenant_id = ?`
	args := []any{tenant}
	if employee != "" {
		query += ` AND employee_id = ?`
		args = append(args, employee)
	}
	query += ` ORDER BY start_date, id`

	var rows []requestRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	out := make([]timeoff.LeaveRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// UpdateRequestStatus moves a request to `to` only while it is in `from`.
func (r *repo) UpdateRequestStatus(ctx context.Context, tenant generic.TenantID, id string, from, to timeoff.RequestStatus, change timeoff.StatusChange) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE leave_requests SET status = ?, decided_at = ?, decided_by = ?, note = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`, to, formatTime(change.At), change.Actor, change.Note, tenant, id, from)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetRequest(ctx, tenant, id); err != nil {
			return err
		}
		return fmt.Errorf("request %s is no longer %s: %w", id, from, generic.ErrConcurrentModification)
	}
	return nil
}

func (row requestRow) toRequest() (timeoff.LeaveRequest, error) {
	start, err := generic.ParseDate(row.StartDate)
	if err != nil {
		return timeoff.LeaveRequest{}, fmt.Errorf("request %s: %w", row.ID, err)
	}
	end, err := generic.ParseDate(row.EndDate)
	if err != nil {
		return timeoff.LeaveRequest{}, fmt.Errorf("request %s: %w", row.ID, err)
	}
	var days []timeoff.DayCharge
	if err := json.Unmarshal([]byte(row.DaysJSON), &days); err != nil {
		return timeoff.LeaveRequest{}, fmt.Errorf("request %s: days: %w", row.ID, err)
	}
	req := timeoff.LeaveRequest{
		ID:                  row.ID,
		TenantID:            generic.TenantID(row.TenantID),
		EmployeeID:          generic.EntityID(row.EmployeeID),
		Category:            timeoff.Category(row.Category),
		StartDate:           start,
		EndDate:             end,
		PartialDay:          timeoff.PartialDayType(row.PartialDay),
		Status:              timeoff.RequestStatus(row.Status),
		TotalChargeableDays: parseDecimal(row.TotalChargeableDays),
		ChargeableHours:     parseDecimal(row.ChargeableHours),
		Days:                days,
		Reason:              row.Reason,
		SubmittedAt:         parseTime(row.SubmittedAt),
		DecidedBy:           row.DecidedBy,
		Note:                row.Note,
	}
	if row.DecidedAt.Valid {
		at := parseTime(row.DecidedAt.String)
		req.DecidedAt = &at
	}
	return req, nil
}

// =============================================================================
// MUTATION JOURNAL
// =============================================================================

type mutationRow struct {
	ID             string `db:"id"`
	IdempotencyKey string `db:"idempotency_key"`
	TenantID       string `db:"tenant_id"`
	EmployeeID     string `db:"employee_id"`
	Category       string `db:"category"`
	Kind           string `db:"kind"`
	PendingDelta   string `db:"pending_delta"`
	ApprovedDelta  string `db:"approved_delta"`
	AdjustedDelta  string `db:"adjusted_delta"`
	AccruedDelta   string `db:"accrued_delta"`
	EffectiveDate  string `db:"effective_date"`
	Override       bool   `db:"override"`
	RequestID      string `db:"request_id"`
	Reason         string `db:"reason"`
	Actor          string `db:"actor"`
	CreatedAt      string `db:"created_at"`
}

const mutationColumns = `id, idempotency_key, tenant_id, employee_id, category, kind,
	pending_delta, approved_delta, adjusted_delta, accrued_delta, effective_date,
	override, request_id, reason, actor, created_at`

func (r *repo) AppendMutation(ctx context.Context, m timeoff.BalanceMutation) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	key := m.IdempotencyKey
	if key == "" {
		key = m.ID
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO balance_mutations (`+mutationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, key, m.TenantID, m.EmployeeID, m.Category, m.Kind,
		m.PendingDelta.String(), m.ApprovedDelta.String(), m.AdjustedDelta.String(), m.AccruedDelta.String(),
		dateKey(m.EffectiveDate), m.Override, m.RequestID, m.Reason, m.Actor, formatTime(createdAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append mutation: %w", err)
	}
	return nil
}

func (r *repo) ListMutations(ctx context.Context, tenant generic.TenantID, employee generic.EntityID) ([]timeoff.BalanceMutation, error) {
	var rows []mutationRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+mutationColumns+` FROM balance_mutations
		WHERE tenant_id = ? AND employee_id = ? ORDER BY rowid
	`, tenant, employee)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	out := make([]timeoff.BalanceMutation, 0, len(rows))
	for _, row := range rows {
		effective, _ := generic.ParseDate(row.EffectiveDate)
		out = append(out, timeoff.BalanceMutation{
			ID:             row.ID,
			IdempotencyKey: row.IdempotencyKey,
			TenantID:       generic.TenantID(row.TenantID),
			EmployeeID:     generic.EntityID(row.EmployeeID),
			Category:       timeoff.Category(row.Category),
			Kind:           timeoff.MutationKind(row.Kind),
			PendingDelta:   parseDecimal(row.PendingDelta),
			ApprovedDelta:  parseDecimal(row.ApprovedDelta),
			AdjustedDelta:  parseDecimal(row.AdjustedDelta),
			AccruedDelta:   parseDecimal(row.AccruedDelta),
			EffectiveDate:  effective,
			Override:       row.Override,
			RequestID:      row.RequestID,
			Reason:         row.Reason,
			Actor:          row.Actor,
			CreatedAt:      parseTime(row.CreatedAt),
		})
	}
	return out, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func dateKey(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.Key()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
