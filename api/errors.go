package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors collects every failing field of a request body.
type fieldErrors map[string]string

func (f fieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for field, msg := range f {
		parts = append(parts, field+": "+msg)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (f fieldErrors) Unwrap() error { return generic.ErrInvalidRequest }

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// An empty body is allowed when allowEmpty is set.
func decodeAndValidate(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return &generic.ValidationErrorDetail{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		details := make(fieldErrors, len(verrs))
		for _, e := range verrs {
			details[fieldPath(e)] = formatValidationError(e)
		}
		return details
	}
	return nil
}

// fieldPath drops the struct name from the validator namespace:
// "UpsertEmployeeRequest.fractionHistory[0].effectiveFrom" becomes
// "fractionHistory[0].effectiveFrom".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "oneof":
		return "must be one of: " + e.Param()
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "invalid value"
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// statusFor maps engine errors to HTTP statuses:
//
//	400 malformed input            ErrInvalidRequest, ErrInvalidPeriod
//	404 missing tenant/employee/…  IsNotFound
//	409 state conflicts            ErrInvalidTransition, ErrConcurrentModification, ErrBalanceExists
//	422 balance rules              ErrInsufficientBalance, ErrNegativeBalance, ErrDuplicateDayConsumption, NotEligibleError
//	500 everything else, including ErrInconsistentState
func statusFor(err error) (int, string) {
	var notEligible *timeoff.NotEligibleError
	switch {
	case errors.Is(err, generic.ErrInconsistentState):
		return http.StatusInternalServerError, "INCONSISTENT_STATE"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &notEligible):
		return http.StatusUnprocessableEntity, "NOT_ELIGIBLE"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, generic.ErrNegativeBalance):
		return http.StatusUnprocessableEntity, "NEGATIVE_BALANCE"
	case errors.Is(err, generic.ErrDuplicateDayConsumption):
		return http.StatusUnprocessableEntity, "DUPLICATE_DAY"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.Is(err, generic.ErrBalanceExists), errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, generic.ErrInvalidRequest), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// detailsFor extracts the structured fields of known error types.
func detailsFor(err error) map[string]string {
	var (
		fields     fieldErrors
		detail     *generic.ValidationErrorDetail
		shape      *timeoff.RequestShapeError
		short      *generic.InsufficientBalanceError
		negative   *generic.NegativeBalanceError
		duplicate  *timeoff.DuplicateDayError
		transition *timeoff.InvalidTransitionError
	)
	switch {
	case errors.As(err, &fields):
		return fields
	case errors.As(err, &detail):
		return map[string]string{detail.Field: detail.Message}
	case errors.As(err, &shape):
		return map[string]string{shape.Field: shape.Reason}
	case errors.As(err, &short):
		return map[string]string{
			"category":  short.Category,
			"available": short.Available.Value.String(),
			"requested": short.Requested.Value.String(),
		}
	case errors.As(err, &negative):
		return map[string]string{
			"category": negative.Category,
			"field":    negative.Field,
			"value":    negative.Value.Value.String(),
		}
	case errors.As(err, &duplicate):
		return map[string]string{
			"date":              duplicate.Date.Key(),
			"slot":              string(duplicate.Slot),
			"existingRequestId": duplicate.ExistingRequestID,
		}
	case errors.As(err, &transition):
		return map[string]string{"from": string(transition.From), "to": string(transition.To)}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to a status and writes an ErrorResponse. Internal
// errors are logged and their text is not exposed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code, Details: detailsFor(err)}
	if status == http.StatusInternalServerError {
		h.requestLog(r).Error().Err(err).Str("code", code).Msg("request failed")
		resp.Error = "an unexpected error occurred"
		if code == "INCONSISTENT_STATE" {
			resp.Error = "the change was rolled back; retry the request"
		}
	}
	writeJSON(w, status, resp)
}
