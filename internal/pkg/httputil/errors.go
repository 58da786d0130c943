package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-alerts/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
	// RetryAfter, when set, is sent as a Retry-After header.
	RetryAfter time.Duration
}

// HandleError maps a domain error to an HTTP response using provided mappings.
// If no mapping matches, logs the error and returns 500 Internal Server Error.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			if m.Status >= http.StatusInternalServerError {
				ctxlog.FromContext(ctx).Warn("request failed", "status", m.Status, "error", err)
			}
			if m.RetryAfter > 0 {
				SetRetryAfter(w, m.RetryAfter)
			}
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

// Unavailable writes a 503 response asking the client to retry after d.
func Unavailable(w http.ResponseWriter, d time.Duration, message string) {
	SetRetryAfter(w, d)
	Error(w, http.StatusServiceUnavailable, message)
}

// SetRetryAfter sets the Retry-After header in whole seconds, at least one.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
