// Package httputil holds the response envelopes, error mapping and middleware shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// errorBody is the {"error": {...}} envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// FieldError describes one failed validation constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// JSON writes data as the whole response body. Rule configuration is returned
// this way so that it round-trips byte for byte.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// Success writes data in a {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"data": data})
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Error writes an error envelope with a message only.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message}})
}

// ValidationError writes a 400 with per-field details when err comes from the validator.
func ValidationError(w http.ResponseWriter, err error) {
	var details any = err.Error()

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, FieldError{Field: fieldPath(e.Namespace()), Message: e.Tag()})
		}
		details = fields
	}

	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Message: "validation error",
		Details: details,
	}})
}

// fieldPath drops the root struct name from a validator namespace:
// "ConfigRequest.channel.type" becomes "channel.type".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
