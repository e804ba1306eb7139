package api

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// maxPolicyBody bounds policy documents read from a request.
const maxPolicyBody = 1 << 20

// =============================================================================
// POLICIES
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Engine.ListPolicies(r.Context(), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]any, 0, len(policies))
	for _, p := range policies {
		dtos = append(dtos, h.PolicyFactory.ToJSON(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePolicy stores one policy document for the tenant in the URL and
// returns the tenant's compliance issues after the save.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBody))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.PolicyFactory.ParsePolicy(body)
	if err != nil {
		h.writeError(w, r, asClientError(err))
		return
	}
	tenant := tenantParam(r)
	if p.TenantID != "" && p.TenantID != tenant {
		h.writeError(w, r, &generic.ValidationErrorDetail{Field: "tenantId", Message: "does not match the tenant in the URL"})
		return
	}
	p.TenantID = tenant
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	issues, err := h.Engine.SavePolicy(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []timeoff.Issue{}
	}
	writeJSON(w, http.StatusCreated, SavePolicyResponse{Policy: h.PolicyFactory.ToJSON(p), Issues: issues})
}

// GetCompliance checks the tenant's stored policies.
func (h *Handler) GetCompliance(w http.ResponseWriter, r *http.Request) {
	issues, err := h.Engine.ValidateTenantCompliance(r.Context(), tenantParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, complianceResponse(issues))
}

// CheckCompliance checks a policy set from the body without storing it.
func (h *Handler) CheckCompliance(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyBody))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	policies, err := h.PolicyFactory.ParsePolicies(body)
	if err != nil {
		h.writeError(w, r, asClientError(err))
		return
	}
	tenant := tenantParam(r)
	for i := range policies {
		policies[i].TenantID = tenant
	}
	writeJSON(w, http.StatusOK, complianceResponse(h.Engine.ValidateCompliance(policies)))
}

func complianceResponse(issues []timeoff.Issue) ComplianceResponse {
	if issues == nil {
		issues = []timeoff.Issue{}
	}
	return ComplianceResponse{Compliant: !timeoff.HasErrors(issues), Issues: issues}
}

// asClientError marks factory JSON syntax errors as invalid input.
func asClientError(err error) error {
	if generic.IsClientError(err) {
		return err
	}
	return &generic.ValidationErrorDetail{Field: "body", Message: err.Error()}
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// ListHolidays resolves the observed holidays for ?region (default: the
// tenant's region) between ?from and ?to (default: the current year).
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	t, err := h.Engine.GetTenant(r.Context(), tenant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	region := r.URL.Query().Get("region")
	if region == "" {
		region = t.DefaultRegion
	}
	year := h.Engine.Today().Year()
	from, to := generic.StartOfYear(year), generic.EndOfYear(year)
	if f, err := dateQuery(r, "from"); err != nil {
		h.writeError(w, r, err)
		return
	} else if f != nil {
		from = *f
	}
	if tq, err := dateQuery(r, "to"); err != nil {
		h.writeError(w, r, err)
		return
	} else if tq != nil {
		to = *tq
	}

	holidays, err := h.Engine.ResolveHolidays(r.Context(), tenant, region, generic.Period{Start: from, End: to})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holidays)
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Engine.SaveHoliday(r.Context(), timeoff.Holiday{
		ID:         req.ID,
		TenantID:   tenantParam(r),
		RegionCode: req.RegionCode,
		Date:       date,
		Name:       req.Name,
		Recurring:  req.Recurring,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, HolidayDTO{
		ID:         saved.ID,
		Date:       saved.Date.Key(),
		Name:       saved.Name,
		RegionCode: saved.RegionCode,
		Recurring:  saved.Recurring,
	})
}
