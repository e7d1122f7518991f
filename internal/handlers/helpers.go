package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/akshaypn/healthup/internal/decoder"
	"github.com/akshaypn/healthup/internal/middleware"
	"github.com/akshaypn/healthup/internal/models"
	"github.com/akshaypn/healthup/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.RequestID(r),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: middleware.RequestID(r),
		},
	}
}

// handleServiceError maps service errors onto status codes. A SyncError is
// reported by the failure it wraps.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *services.ValidationError
		authErr       *services.AuthError
		remoteErr     *services.RemoteError
		decodeErr     *decoder.DecodeError
		rateErr       *services.RateLimitError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", validationErr.Fields, r))
	case errors.Is(err, services.ErrNotConnected):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_CONNECTED", "No wearable account is connected", r))
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, errorResp("WEARABLE_AUTH_FAILED", authErr.Message, r))
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, errorResp("RATE_LIMITED", rateErr.Message, r))
	case errors.As(err, &decodeErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("DECODE_ERROR", "Wearable data could not be decoded", r))
	case errors.As(err, &remoteErr):
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Wearable service is unavailable", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Fields: map[string]string{key: "must be an integer"}}
	}
	return n, nil
}
