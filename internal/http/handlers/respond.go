package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stepguard/server/internal/auth"
)

const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// statusFor maps a service error kind to its HTTP status
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindRateLimited, auth.KindOTPMaxAttempts:
		return http.StatusTooManyRequests
	case auth.KindInvalidCredentials, auth.KindOTPInvalid:
		return http.StatusUnauthorized
	case auth.KindEmailUnverified:
		return http.StatusForbidden
	case auth.KindOTPExpired:
		return http.StatusGone
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// respondWithServiceError writes err using its kind. Dependency failures are logged and hidden.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := auth.KindOf(err)
	resp := errorResponse{Code: string(kind)}

	var e *auth.Error
	if errors.As(err, &e) {
		resp.Error = e.Message
		if kind == auth.KindRateLimited && e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
		}
		if kind == auth.KindOTPInvalid {
			remaining := e.RemainingAttempts
			resp.RemainingAttempts = &remaining
		}
	}

	if kind == auth.KindDependency {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		resp.Error = "service temporarily unavailable"
	}

	respondJSON(w, logger, statusFor(kind), resp)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: string(auth.KindValidation)})
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "source", "http", "error", err)
	}
}

// decodeBody reads a JSON request body into dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
