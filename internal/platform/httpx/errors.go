// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/stocklane/stocklane/internal/shared"
)

// ErrValidation marks malformed or invalid request input.
var ErrValidation = errors.New("validation failed")

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stock *shared.InsufficientStockError
	var state *shared.StateError
	switch {
	case errors.As(err, &stock):
		ProblemExt(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
			"batch_id":  stock.BatchID,
			"available": stock.Available,
			"requested": stock.Requested,
		})
	case errors.As(err, &state):
		ProblemExt(w, http.StatusConflict, "Invalid State Transition", err.Error(), map[string]any{
			"current_status":  state.Current,
			"expected_status": state.Expected,
		})
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Permission Denied", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
