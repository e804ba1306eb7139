package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// CHARGEABLE DAYS
// =============================================================================

func (h *Handler) CalculateChargeableDays(w http.ResponseWriter, r *http.Request) {
	var req ChargeableDaysRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenant := tenantParam(r)
	region := req.Region
	if region == "" {
		t, err := h.Engine.GetTenant(r.Context(), tenant)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		region = t.DefaultRegion
	}
	result, err := h.Engine.CalculateChargeableDays(r.Context(), tenant, start, end, region, timeoff.PartialDayType(req.PartialDay))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	category, err := timeoff.ParseCategory(req.Category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.Engine.SubmitRequest(r.Context(), timeoff.SubmitInput{
		TenantID:   tenantParam(r),
		EmployeeID: generic.EntityID(req.EmployeeID),
		Category:   category,
		StartDate:  start,
		EndDate:    end,
		PartialDay: timeoff.PartialDayType(req.PartialDay),
		Reason:     req.Reason,
		Actor:      actorOf(r, req.Actor),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveRequestDTO(created))
}

// ListRequests filters by ?employeeId and ?status.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requests, err := h.Engine.ListRequests(r.Context(), tenantParam(r), generic.EntityID(q.Get("employeeId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := timeoff.RequestStatus(q.Get("status"))
	dtos := make([]LeaveRequestDTO, 0, len(requests))
	for _, req := range requests {
		if status != "" && req.Status != status {
			continue
		}
		dtos = append(dtos, toLeaveRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns the request with a fresh chargeable-day check
// against the current holiday calendar.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.RevalidateRequest(r.Context(), tenantParam(r), chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := toLeaveRequestDTO(v.Request)
	dto.Validation = &v
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, timeoff.StatusApproved)
}

func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, timeoff.StatusDeclined)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, timeoff.StatusCancelled)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, to timeoff.RequestStatus) {
	var body DecisionRequest
	if err := decodeAndValidate(r, &body, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenant, id, actor := tenantParam(r), chi.URLParam(r, "requestID"), actorOf(r, body.Actor)

	var (
		updated timeoff.LeaveRequest
		err     error
	)
	switch to {
	case timeoff.StatusApproved:
		updated, err = h.Engine.ApproveRequest(r.Context(), tenant, id, actor)
	case timeoff.StatusDeclined:
		updated, err = h.Engine.DeclineRequest(r.Context(), tenant, id, actor, body.Note)
	default:
		updated, err = h.Engine.CancelRequest(r.Context(), tenant, id, actor, body.Note)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(updated))
}
