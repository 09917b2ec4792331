package json

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dgellow/xpost/internal/log"
)

// ErrorResponse is the body of every failed API request. Error is safe to
// show to the user; Code is stable and meant for clients.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Posted *int   `json:"posted,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
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
func WriteError(w http.ResponseWriter, statusCode int, code string, message string) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WritePartial reports a request that failed after posted items were
// already committed upstream
func WritePartial(w http.ResponseWriter, statusCode int, code string, message string, posted int) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: message, Code: code, Posted: &posted})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, response ErrorResponse) {
	if err := WriteResponse(w, statusCode, response); err != nil {
		http.Error(w, fmt.Sprintf("%s: %s", response.Code, response.Error), statusCode)
	}
}

// WriteInternalServerError writes a 500 with a message safe for end users
func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
