package common

import (
	"encoding/json"
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/dtos"
)

// RespondSuccess sends a standardized JSON success response.
func RespondSuccess(w http.ResponseWriter, initTime time.Time, message string, data any, statusCode ...int) {
	code := http.StatusOK
	if len(statusCode) > 0 {
		code = statusCode[0]
	}

	response := dtos.APIResponse{
		Status:       string(constants.APIStatusOk),
		Message:      message,
		ResponseTime: GetResponseTime(initTime),
		Data:         data,
	}

	writeJSON(w, code, response)
}

// RespondError sends a standardized JSON error response.
func RespondError(w http.ResponseWriter, initTime time.Time, err error, message string, statusCode ...int) {
	code := http.StatusInternalServerError
	if len(statusCode) > 0 {
		code = statusCode[0]
	}

	msg := message
	if msg == "" && err != nil {
		msg = err.Error()
	}

	response := dtos.APIResponse{
		Status:       string(constants.APIStatusError),
		Message:      msg,
		ResponseTime: GetResponseTime(initTime),
	}
	if err != nil && err.Error() != msg {
		response.Error = err.Error()
	}

	writeJSON(w, code, response)
}

// RespondPermissionDenied rejects a caller lacking the required role
func RespondPermissionDenied(w http.ResponseWriter, required string) {
	RespondError(w, time.Now(), nil, "Permission denied. Requires "+required+" role", http.StatusForbidden)
}

// RespondUnauthorized rejects a request without valid credentials
func RespondUnauthorized(w http.ResponseWriter, err error) {
	RespondError(w, time.Now(), err, "Unauthorized", http.StatusUnauthorized)
}

// writeJSON marshals data and writes it to the HTTP response.
func writeJSON(w http.ResponseWriter, code int, body dtos.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("JSON encode failed", "error", err.Error())
	}
}
