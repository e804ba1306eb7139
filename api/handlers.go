/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave balance and accrual engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to timeoff.Engine.

ENDPOINTS:
  Version:
    GET    /api/version?since=N&wait=30s   Long-poll the balance version

  Tenants + employees:
    GET    /api/tenants
    POST   /api/tenants
    GET    /api/tenants/{tenantID}
    GET    /api/tenants/{tenantID}/employees
    POST   /api/tenants/{tenantID}/employees                 Upsert
    GET    /api/tenants/{tenantID}/employees/{employeeID}

  Balances:
    POST   .../employees/{employeeID}/balances/init
    GET    .../employees/{employeeID}/balances?asOf=YYYY-MM-DD
    POST   .../employees/{employeeID}/adjustments
    POST   .../employees/{employeeID}/accruals?asOf=YYYY-MM-DD
    GET    .../employees/{employeeID}/mutations

  Requests, chargeable days, policies, holidays: requests.go, policies.go

ERROR HANDLING:
  Engine errors map to JSON ErrorResponse bodies (errors.go):
  - 400: Validation errors, invalid input
  - 404: Tenant, employee, policy or request not found
  - 409: Invalid transition, concurrent modification
  - 422: Insufficient or negative balance, duplicate day, not eligible
  - 500: Internal errors (a rolled back transition says so)

SECURITY NOTE:
  No authentication. The actor recorded on mutations comes from the body
  or the X-Actor header and is not verified.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/timeoff"
)

const (
	defaultVersionWait = 30 * time.Second
	maxVersionWait     = 60 * time.Second
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine        *timeoff.Engine
	PolicyFactory *factory.PolicyFactory
	Log           *logger.Logger
}

// NewHandler creates a new handler for eng.
func NewHandler(eng *timeoff.Engine, log *logger.Logger) *Handler {
	return &Handler{
		Engine:        eng,
		PolicyFactory: factory.NewPolicyFactory(),
		Log:           log.WithComponent("api"),
	}
}

func (h *Handler) requestLog(r *http.Request) *logger.Logger {
	return h.Log.WithRequestID(middleware.GetReqID(r.Context()))
}

func tenantParam(r *http.Request) generic.TenantID {
	return generic.TenantID(chi.URLParam(r, "tenantID"))
}

func employeeParam(r *http.Request) generic.EntityID {
	return generic.EntityID(chi.URLParam(r, "employeeID"))
}

// actorOf returns the body actor, the X-Actor header, or "api".
func actorOf(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

// dateQuery parses an optional YYYY-MM-DD query parameter.
func dateQuery(r *http.Request, name string) (*generic.TimePoint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(raw)
	if err != nil {
		return nil, &generic.ValidationErrorDetail{Field: name, Message: "must be a date in YYYY-MM-DD format"}
	}
	return &tp, nil
}

func parseDate(field, raw string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(raw)
	if err != nil {
		return generic.TimePoint{}, &generic.ValidationErrorDetail{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return tp, nil
}

// =============================================================================
// HEALTH + VERSION
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.Engine.Version()})
}

// Version returns the balance version. With since, it waits up to wait
// (default 30s, max 60s) for the version to pass since.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	current := h.Engine.Version()
	if q.Get("since") == "" {
		writeJSON(w, http.StatusOK, VersionResponse{Version: current})
		return
	}
	since, err := strconv.ParseUint(q.Get("since"), 10, 64)
	if err != nil {
		h.writeError(w, r, &generic.ValidationErrorDetail{Field: "since", Message: "must be a non-negative integer"})
		return
	}
	wait := defaultVersionWait
	if raw := q.Get("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait < 0 {
			h.writeError(w, r, &generic.ValidationErrorDetail{Field: "wait", Message: "must be a duration such as 30s"})
			return
		}
	}
	if wait > maxVersionWait {
		wait = maxVersionWait
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	v, _ := h.Engine.Signal().Wait(ctx, since)
	if r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, VersionResponse{Version: v, Changed: v > since})
}

// =============================================================================
// TENANTS
// =============================================================================

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Engine.ListTenants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]TenantDTO, 0, len(tenants))
	for _, t := range tenants {
		dtos = append(dtos, TenantDTO{ID: string(t.ID), Name: t.Name, DefaultRegion: t.DefaultRegion})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveTenant(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	t := timeoff.Tenant{ID: generic.TenantID(req.ID), Name: req.Name, DefaultRegion: req.DefaultRegion}
	if err := h.Engine.SaveTenant(r.Context(), t); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TenantDTO(req))
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.GetTenant(r.Context(), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TenantDTO{ID: string(t.ID), Name: t.Name, DefaultRegion: t.DefaultRegion})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Engine.ListEmployees(r.Context(), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e, nil))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertEmployee creates or replaces an employee. Coerced numeric fields
// are returned in the response.
func (h *Handler) UpsertEmployee(w http.ResponseWriter, r *http.Request) {
	var req UpsertEmployeeRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	emp, coercions, err := h.Engine.UpsertEmployee(r.Context(), req.toInput(string(tenantParam(r))))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp, coercions))
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Engine.GetEmployee(r.Context(), tenantParam(r), employeeParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp, nil))
}

// =============================================================================
// BALANCES
// =============================================================================

func (h *Handler) InitializeBalances(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.InitializeBalances(r.Context(), tenantParam(r), employeeParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if n > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, InitializeResponse{Created: n})
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateQuery(r, "asOf")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sheet, err := h.Engine.GetBalances(r.Context(), tenantParam(r), employeeParam(r), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// AdjustBalance applies a signed manual correction. A replayed
// idempotency key returns 200 with applied=false.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	category, err := timeoff.ParseCategory(req.Category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	row, applied, err := h.Engine.AdjustBalance(r.Context(), timeoff.AdjustmentInput{
		TenantID:       tenantParam(r),
		EmployeeID:     employeeParam(r),
		Category:       category,
		Hours:          *req.Hours,
		Reason:         req.Reason,
		Actor:          actorOf(r, req.Actor),
		IdempotencyKey: req.IdempotencyKey,
		Override:       req.Override,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if applied {
		status = http.StatusCreated
	}
	writeJSON(w, status, AdjustmentResponse{Applied: applied, Balance: toBalanceDTO(row)})
}

func (h *Handler) RecalculateAccruals(w http.ResponseWriter, r *http.Request) {
	asOf, err := dateQuery(r, "asOf")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	at := h.Engine.Today()
	if asOf != nil {
		at = *asOf
	}
	n, err := h.Engine.RecalculateAccruals(r.Context(), tenantParam(r), employeeParam(r), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{AsOf: at.Key(), Changed: n})
}

func (h *Handler) ListMutations(w http.ResponseWriter, r *http.Request) {
	journal, err := h.Engine.ListMutations(r.Context(), tenantParam(r), employeeParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]MutationDTO, 0, len(journal))
	for _, m := range journal {
		dtos = append(dtos, toMutationDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}
