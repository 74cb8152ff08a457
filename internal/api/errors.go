package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-aircon/internal/bridges/advantageair"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// bridgeError maps an error from the bridge to an envelope. Caller
// mistakes are 4xx; anything the controller did is 502 with the bridge's
// error code.
func bridgeError(err error) Error {
	switch {
	case errors.Is(err, advantageair.ErrUnknownDevice):
		return Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, advantageair.ErrInvalidChange), errors.Is(err, advantageair.ErrUnknownEndpoint):
		return Error{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: err.Error()}
	default:
		return Error{
			Status:  http.StatusBadGateway,
			Code:    strings.ToLower(advantageair.ErrorCode(err)),
			Message: err.Error(),
		}
	}
}

func writeBridgeError(w http.ResponseWriter, err error) {
	e := bridgeError(err)
	writeJSON(w, e.Status, e)
}
