package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	shop "github.com/eugener/goshop/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

// envelope is the body of every API response.
type envelope struct {
	Status  int      `json:"status"`
	Message string   `json:"message"`
	Data    any      `json:"data"`
	Errors  []string `json:"errors,omitempty"`
	Success bool     `json:"success"`
	Cached  bool     `json:"cached,omitempty"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeData writes a successful envelope around data.
func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Status: status, Message: message, Data: data, Success: true})
}

// writeError maps err to a status and writes an error envelope. Client
// errors carry their message; anything unmapped is logged and sanitized.
func writeError(w http.ResponseWriter, r *http.Request, err error, details ...string) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", shop.RequestIDFromContext(r.Context())),
			slog.String("error", msg),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, envelope{Status: status, Message: msg, Errors: details})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, shop.ErrUnauthorized), errors.Is(err, shop.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, shop.ErrForbidden), errors.Is(err, shop.ErrBanned):
		return http.StatusForbidden
	case errors.Is(err, shop.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shop.ErrConflict), errors.Is(err, shop.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, shop.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, shop.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON limits body size, decodes JSON into v and validates it. It
// writes a 400 and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, badRequest("invalid request body"))
		return false
	}
	if details := validate(v); len(details) > 0 {
		writeError(w, r, badRequest("validation failed: "+strings.Join(details, "; ")), details...)
		return false
	}
	return true
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", shop.ErrBadRequest, msg)
}
