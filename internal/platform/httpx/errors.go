// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RetryAfterSeconds is advertised on 503 responses for retryable failures.
const RetryAfterSeconds = "1"

// fieldsProvider is implemented by structured domain errors that expose diagnostic fields.
type fieldsProvider interface {
	ProblemFields() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := classify(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, title, "")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	problem := ProblemDetail{Title: title, Status: status, Detail: err.Error()}
	var fp fieldsProvider
	if errors.As(err, &fp) {
		problem.Extensions = fp.ProblemFields()
	}
	WriteProblem(w, problem)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, "Invalid Quantity"
	case errors.Is(err, shared.ErrInvalidPrice):
		return http.StatusUnprocessableEntity, "Invalid Price"
	case errors.Is(err, shared.ErrInvalidTransfer):
		return http.StatusUnprocessableEntity, "Invalid Transfer"
	case errors.Is(err, shared.ErrInvalidReturn):
		return http.StatusUnprocessableEntity, "Invalid Return"
	case errors.Is(err, shared.ErrInvalidAuditScope):
		return http.StatusUnprocessableEntity, "Invalid Audit Scope"
	case errors.Is(err, shared.ErrInsufficientQuantity):
		return http.StatusConflict, "Insufficient Quantity"
	case errors.Is(err, shared.ErrDuplicateBarcode):
		return http.StatusConflict, "Duplicate Barcode"
	case errors.Is(err, shared.ErrDuplicateCode):
		return http.StatusConflict, "Duplicate Code"
	case errors.Is(err, shared.ErrInvalidAuditState):
		return http.StatusConflict, "Invalid Audit State"
	case errors.Is(err, shared.ErrStaleCount):
		return http.StatusConflict, "Stale Count"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, "Idempotency Conflict"
	case errors.Is(err, shared.ErrRetryable):
		return http.StatusServiceUnavailable, "Temporarily Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
