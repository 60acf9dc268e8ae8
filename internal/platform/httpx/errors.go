package httpx

import (
	"errors"
	"net/http"

	"github.com/fixflow-erp/fixflow/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Every
// error carries a specific reason; nothing here is reported as a generic
// failure unless genuinely unknown.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrDuplicateActive):
		Problem(w, http.StatusConflict, "Duplicate Active Document", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.Is(err, shared.ErrStoreConflict):
		// The atomic unit was rejected as a whole; the caller may retry verbatim.
		Problem(w, http.StatusServiceUnavailable, "Store Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
