package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/dgellow/xpost/internal/apperr"
	jsonwriter "github.com/dgellow/xpost/internal/json"
	"github.com/dgellow/xpost/internal/log"
)

// statusFor maps an operation error to its HTTP status and stable code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrSessionExpired):
		return http.StatusUnauthorized, "session_expired"
	case errors.Is(err, apperr.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, apperr.ErrRejectedAfterRefresh):
		return http.StatusBadGateway, "upstream_rejected"
	case errors.Is(err, apperr.ErrProviderAuth):
		return http.StatusUnauthorized, "provider_auth"
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes err with a message that is safe for the end user
func writeError(w http.ResponseWriter, r *http.Request, component string, err error) {
	status, code := statusFor(err)

	fields := map[string]any{
		"error":      err,
		"status":     status,
		"request_id": RequestIDFromContext(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		log.LogErrorWithFields(component, "Request failed", fields)
	} else {
		log.LogDebugWithFields(component, "Request rejected", fields)
	}

	jsonwriter.WriteError(w, status, code, apperr.UserMessage(err))
}
