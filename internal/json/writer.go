package json

import (
	"encoding/json"
	"net/http"

	"github.com/merchantdash/auth-front/internal/log"
)

// ErrorResponse is the error payload returned by every endpoint.
type ErrorResponse struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	Message       string `json:"message,omitempty"`
	Data          any    `json:"data,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, statusMessage, message string) {
	response := ErrorResponse{
		StatusCode:    statusCode,
		StatusMessage: statusMessage,
		Message:       message,
	}

	if err := WriteResponse(w, statusCode, response); err != nil {
		// Fallback to plain text if JSON encoding fails
		http.Error(w, statusMessage+": "+message, statusCode)
	}
}

// WriteErrorData writes a JSON error response carrying extra data,
// e.g. the reset time on a rate-limited response.
func WriteErrorData(w http.ResponseWriter, statusCode int, statusMessage, message string, data any) {
	response := ErrorResponse{
		StatusCode:    statusCode,
		StatusMessage: statusMessage,
		Message:       message,
		Data:          data,
	}

	if err := WriteResponse(w, statusCode, response); err != nil {
		http.Error(w, statusMessage+": "+message, statusCode)
	}
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "Unauthorized", message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "Not Found", message)
}
