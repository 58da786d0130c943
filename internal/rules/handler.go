package rules

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/bissquit/incident-alerts/internal/domain"
	"github.com/bissquit/incident-alerts/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrRuleNotFound, Status: http.StatusNotFound, Message: "alert rule not found"},
	{Error: ErrInvalidRule, Status: http.StatusBadRequest},
	{Error: ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "rule store unavailable", RetryAfter: 5 * time.Second},
}

// Handler handles HTTP requests for alert rules.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new rules handler.
func NewHandler(service *Service) *Handler {
	v := validator.New()
	// report wire names in validation details
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		service:   service,
		validator: v,
	}
}

// RegisterRoutes registers alert rule routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/alerts/config", h.CreateConfig)
	r.Get("/alerts/config", h.ListConfig)
	r.Get("/alerts/rules", h.ListRules)
	r.Delete("/alerts/rules/{id}", h.DeleteRule)
}

// ConfigRequest is the wire shape of an alert rule.
type ConfigRequest struct {
	Filters []domain.Filter `json:"filters" validate:"required,min=1,dive,min=1"`
	Channel ChannelRequest  `json:"channel"`
}

// ChannelRequest is the wire shape of a rule channel.
type ChannelRequest struct {
	Type  string `json:"type" validate:"required,oneof=email webhook"`
	Value string `json:"value" validate:"required"`
}

// RuleResponse is the operator view of a rule including its id.
type RuleResponse struct {
	ID        string          `json:"id"`
	Filters   []domain.Filter `json:"filters"`
	Channel   domain.Channel  `json:"channel"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateConfig handles POST /alerts/config.
// The response echoes the stored rule; its id is returned in the Location header.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	rule, err := h.service.CreateRule(r.Context(), domain.Rule{
		Filters: req.Filters,
		Channel: domain.Channel{
			Type:  domain.ChannelType(req.Channel.Type),
			Value: req.Channel.Value,
		},
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.Header().Set("Location", "/api/v1/alerts/rules/"+rule.ID)
	httputil.JSON(w, http.StatusCreated, rule)
}

// ListConfig handles GET /alerts/config.
func (h *Handler) ListConfig(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if rules == nil {
		rules = []domain.Rule{}
	}
	httputil.JSON(w, http.StatusOK, rules)
}

// ListRules handles GET /alerts/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, RuleResponse{
			ID:        rule.ID,
			Filters:   rule.Filters,
			Channel:   rule.Channel,
			CreatedAt: rule.CreatedAt,
		})
	}

	httputil.Success(w, http.StatusOK, resp)
}

// DeleteRule handles DELETE /alerts/rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteRule(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
