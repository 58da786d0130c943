package delivery

import (
	"net/http"
	"strconv"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler exposes delivery records for observability.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates a new delivery handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes registers delivery routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/alerts/deliveries", h.ListDeliveries)
}

// ListDeliveries handles GET /alerts/deliveries?status=...&limit=...
// The status defaults to failed-permanent.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	status := domain.DeliveryStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.DeliveryStatusFailedPermanent
	}
	switch status {
	case domain.DeliveryStatusPending, domain.DeliveryStatusDelivered,
		domain.DeliveryStatusFailedPermanent, domain.DeliveryStatusCancelled:
	default:
		httputil.Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.pipeline.List(r.Context(), status, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	if records == nil {
		records = []domain.DeliveryRecord{}
	}
	httputil.Success(w, http.StatusOK, records)
}
