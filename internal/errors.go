package internal

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"itam-api/internal/auth"
	"itam-api/internal/models"
	"itam-api/internal/users"
	"itam-api/internal/warranty"

	"go.uber.org/zap"
)

// statusFor maps a service error onto an HTTP status and machine code
func statusFor(err error) (int, string) {
	var (
		quota   *models.QuotaExceededError
		trans   *models.InvalidStateTransitionError
		taken   *models.AlreadyAssignedError
		closed  *models.NotActiveError
		acked   *models.AlreadyAcknowledgedError
		invalid models.ValidationError
	)
	switch {
	case errors.As(err, &quota):
		return http.StatusForbidden, "QUOTA_EXCEEDED"
	case errors.Is(err, models.ErrTenantInactive):
		return http.StatusForbidden, "TENANT_INACTIVE"
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &trans):
		return http.StatusConflict, "INVALID_STATE_TRANSITION"
	case errors.As(err, &taken):
		return http.StatusConflict, "ALREADY_ASSIGNED"
	case errors.As(err, &closed):
		return http.StatusConflict, "ASSIGNMENT_NOT_ACTIVE"
	case errors.As(err, &acked):
		return http.StatusConflict, "ALREADY_ACKNOWLEDGED"
	case errors.Is(err, models.ErrHasHistory):
		return http.StatusConflict, "ASSET_HAS_HISTORY"
	case errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, warranty.ErrLocked):
		return http.StatusConflict, "SCAN_IN_PROGRESS"
	case errors.Is(err, models.ErrConfirmationRequired):
		return http.StatusBadRequest, "CONFIRMATION_REQUIRED"
	case errors.As(err, &invalid), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeError renders err in the standard error body. Internal errors are
// logged and hidden from the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "Internal server error"
	}
	auth.SendErrorResponse(w, msg, code, status)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeJSON reads the request body into dst. An empty body leaves dst untouched
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		auth.SendErrorResponse(w, "Invalid request body: "+err.Error(), "INVALID_BODY", http.StatusBadRequest)
		return false
	}
	return true
}
