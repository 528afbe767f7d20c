package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fileinasnap/internal/util"
	"fileinasnap/pkg/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeAppError maps a service error onto the HTTP error taxonomy. resource
// names the entity for NOT_FOUND codes, e.g. "folder" gives FOLDER_NOT_FOUND.
func writeAppError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	status, code, msg := classify(resource, err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, r, status, code, msg)
}

func classify(resource string, err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		if resource == "" {
			resource = "resource"
		}
		return http.StatusNotFound, strings.ToUpper(resource) + "_NOT_FOUND", resource + " not found"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "QUOTA_EXCEEDED", err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED", err.Error()
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
