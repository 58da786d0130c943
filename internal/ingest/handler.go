// Package ingest accepts incident events and hands them to the matching coordinator.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/matching"
	"github.com/bissquit/incident-alerts/internal/pkg/ctxlog"
	"github.com/bissquit/incident-alerts/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

const maxEventSize = 1 << 20

// retryAfter is the hint returned with 503 responses.
const retryAfter = 5 * time.Second

// EventHandler processes one incident event.
type EventHandler interface {
	Handle(ctx context.Context, incident domain.Incident) (matching.Result, error)
}

// Decode parses an incident event. Numbers are kept as json.Number so large
// keys compare exactly.
func Decode(data []byte) (domain.Incident, error) {
	var incident domain.Incident
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&incident); err != nil {
		return domain.Incident{}, fmt.Errorf("%w: %v", matching.ErrInvalidIncident, err)
	}
	return incident, nil
}

// Handler handles HTTP incident event submissions.
type Handler struct {
	events EventHandler
}

// NewHandler creates a new ingest handler.
func NewHandler(events EventHandler) *Handler {
	return &Handler{events: events}
}

// RegisterRoutes registers incident event routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/incidents/events", h.SubmitEvent)
}

// SubmitEvent handles POST /incidents/events.
// A 503 response means the event was not processed and should be resent.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "read body")
		return
	}

	incident, err := Decode(data)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.events.Handle(r.Context(), incident)
	if err != nil {
		if errors.Is(err, matching.ErrInvalidIncident) {
			httputil.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		ctxlog.FromContext(r.Context()).Warn("incident event not processed",
			"incident_id", incident.ID,
			"revision", incident.Revision,
			"error", err,
		)
		httputil.Unavailable(w, retryAfter, "event not processed, retry later")
		return
	}

	httputil.Success(w, http.StatusAccepted, res)
}
