package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lumenapp/lumen/internal/service"
)

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{"error": apiError{Code: code, Message: message}})
}

// respondFieldErrors reports validation failures per field, separate
// from business errors.
func respondFieldErrors(w http.ResponseWriter, fields map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]any{"error": apiError{
		Code:    "BAD_REQUEST",
		Message: "validation failed",
		Fields:  fields,
	}})
}

// decodeJSON parses the request body into dst. On failure it writes a
// 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return false
	}
	return true
}

// respondServiceError maps the service error taxonomy onto HTTP.
// Anything unmapped is an opaque internal error.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmailAlreadyExists):
		respondError(w, http.StatusConflict, "CONFLICT", "User already exists")
	case errors.Is(err, service.ErrTokenInvalid):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Invalid token")
	case errors.Is(err, service.ErrTokenExpired):
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Token expired")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials")
	case errors.Is(err, service.ErrInvalidEmail):
		respondFieldErrors(w, map[string]string{"email": "invalid email address"})
	case errors.Is(err, service.ErrInvalidCurrentPassword):
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Incorrect current password")
	case errors.Is(err, service.ErrNoPasswordSet):
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "User has no password set (OAuth user?)")
	default:
		slog.Error("internal error", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
