// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the wire error envelope. Every error reaching a client
// carries a stable machine-readable code plus a human-readable message.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// WriteAPIError writes a tenancy.APIError as the standard error envelope,
// using the error's own status code.
func WriteAPIError(w http.ResponseWriter, apiErr *tenancy.APIError) {
	WriteErrorCode(w, apiErr.StatusCode, apiErr.ErrorCode, apiErr.Message)
}

// WriteErrorCode writes the standard error envelope with an explicit
// status, code, and message.
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		ErrorCode: code,
		Message:   message,
	})
}

// WriteError maps any error to the envelope: APIErrors keep their code
// and status, everything else becomes a 500 internal_error without
// leaking details.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *tenancy.APIError
	if errors.As(err, &apiErr) {
		WriteAPIError(w, apiErr)
		return
	}
	WriteErrorCode(w, http.StatusInternalServerError, "internal_error", "An internal error occurred.")
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, code, message string) {
	WriteErrorCode(w, http.StatusBadRequest, code, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusUnauthorized, tenancy.CodeUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorCode(w, http.StatusForbidden, tenancy.CodeForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, code, message string) {
	WriteErrorCode(w, http.StatusNotFound, code, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, code, message string) {
	WriteErrorCode(w, http.StatusConflict, code, message)
}

// WriteInternalError writes an internal server error response (500)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, err)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
