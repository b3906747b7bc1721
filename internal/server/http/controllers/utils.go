package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mezeipetister/towl/internal/logfile"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, logfile.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, logfile.ErrFileRetired):
		return http.StatusGone
	case errors.Is(err, logfile.ErrInvalidCounter), errors.Is(err, logfile.ErrConfig), errors.Is(err, logfile.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, logfile.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// parseBool returns true for "true" or "1", false otherwise.
func parseBool(s string) bool {
	return s == "true" || s == "1"
}
