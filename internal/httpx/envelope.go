// Package httpx holds the HTTP plumbing shared by the middleware chain,
// the proxy rules, and the registry: the uniform JSON response envelope
// and the per-request correlation ID context helpers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Error codes used across the gateway. Every error response, whatever its
// origin, carries exactly one of these.
const (
	CodeNoToken            = "NO_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeNotFound           = "NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeServerError        = "SERVER_ERROR"
)

// ErrorBody is the inner error object of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the uniform shape of every error response:
// {"success":false,"error":{"code":...,"message":...}}.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// WriteError writes the uniform error envelope with the given status code.
// Messages must be client-safe; callers log the underlying cause themselves.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorEnvelope{
		Success: false,
		Error:   ErrorBody{Code: code, Message: message},
	})
}

// WriteJSON serializes v with the given status code. Encoding failures are
// ignored: by the time Encode fails the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
