package api

import (
	"errors"
	"log/slog"
	"net/http"

	"acteezer/cmd/internal/participation"
)

// writeServiceError maps participation error kinds to HTTP responses.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	if d, ok := participation.AsDenied(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: apiError{
			Code:             string(d.Code),
			Message:          d.Reason,
			MissingLanguages: d.Missing,
		}})
		return
	}

	switch {
	case errors.Is(err, participation.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", errorMessage(err))
	case errors.Is(err, participation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, participation.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", errorMessage(err))
	case errors.Is(err, participation.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "activity_full", "activity is full")
	case errors.Is(err, participation.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", errorMessage(err))
	case errors.Is(err, participation.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent update, retry")
	default:
		log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func errorMessage(err error) string {
	var opErr participation.OpError
	if errors.As(err, &opErr) && opErr.Msg != "" {
		return opErr.Msg
	}
	return "request rejected"
}
