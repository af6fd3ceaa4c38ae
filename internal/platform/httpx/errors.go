package httpx

import (
	"errors"
	"net/http"

	"github.com/zambezi-erp/zambezi-erp/internal/shared"
)

// RespondError maps the engine's error taxonomy to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation   *shared.ValidationError
		notFound     *shared.NotFoundError
		state        *shared.StateConflictError
		concurrency  *shared.ConcurrencyConflictError
		insufficient *shared.InsufficientStockError
		expired      *shared.ExpiredError
	)
	switch {
	case errors.As(err, &validation):
		Problem(w, http.StatusBadRequest, "Validation Failed", validation.Error())
	case errors.As(err, &notFound):
		Problem(w, http.StatusNotFound, "Not Found", notFound.Error())
	case errors.As(err, &state):
		Problem(w, http.StatusConflict, "State Conflict", state.Error())
	case errors.As(err, &concurrency):
		Problem(w, http.StatusConflict, "Concurrent Update", concurrency.Error())
	case errors.As(err, &insufficient):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &expired):
		Problem(w, http.StatusConflict, "Document Expired", expired.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
