package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-lifecycle/internal/models"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request_failed", "route", routeTemplate(r), "error", err)
		if !errors.Is(err, models.ErrIntegrity) {
			msg = "internal error"
		}
	}
	writeJSON(w, status, envelope{Message: msg, Code: models.Code(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRoute),
		errors.Is(err, models.ErrBadRequest),
		errors.Is(err, models.ErrInvalidFare),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidApproval):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden),
		errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrNotApproved),
		errors.Is(err, models.ErrCancellationNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrDriverNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
