// Package rules provides HTTP handlers for detection rule management.
package rules

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/middleware"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Handler handles rule endpoints.
type Handler struct {
	rules  storage.RuleRepository
	logger *zap.SugaredLogger
}

// NewHandler creates a new rules handler. rules should be the cached
// repository so that writes invalidate the evaluation cache.
func NewHandler(rules storage.RuleRepository, logger *zap.SugaredLogger) *Handler {
	return &Handler{rules: rules, logger: logger}
}

// CreateRequest is the body of POST /api/v1/rules.
type CreateRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	Slug          string `json:"slug,omitempty" validate:"omitempty,max=100,slug"`
	Description   string `json:"description,omitempty" validate:"max=1000"`
	EventType     string `json:"event_type" validate:"required,max=64"`
	Severity      string `json:"severity" validate:"required,severity"`
	Threshold     int    `json:"threshold" validate:"required,min=1"`
	WindowMinutes int    `json:"window_minutes" validate:"min=0,max=10080"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

// UpdateRequest is the body of PUT /api/v1/rules/{id}. Omitted fields are
// left unchanged.
type UpdateRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description   *string `json:"description,omitempty" validate:"omitempty,max=1000"`
	EventType     *string `json:"event_type,omitempty" validate:"omitempty,min=1,max=64"`
	Severity      *string `json:"severity,omitempty" validate:"omitempty,severity"`
	Threshold     *int    `json:"threshold,omitempty" validate:"omitempty,min=1"`
	WindowMinutes *int    `json:"window_minutes,omitempty" validate:"omitempty,min=0,max=10080"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// List handles GET /api/v1/rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		h.logger.Errorw("list rules", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	if rules == nil {
		rules = []*models.Rule{}
	}
	respond.OK(w, rules)
}

// Create handles POST /api/v1/rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if rerr := respond.Decode(w, r, &req); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	now := time.Now().UTC()
	rule := &models.Rule{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(req.Name),
		Slug:          req.Slug,
		Description:   strings.TrimSpace(req.Description),
		EventType:     req.EventType,
		Severity:      models.Severity(req.Severity),
		Threshold:     req.Threshold,
		WindowMinutes: req.WindowMinutes,
		Enabled:       req.Enabled == nil || *req.Enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rule.Slug == "" {
		rule.Slug = models.Slugify(rule.Name)
	}
	if err := rule.Validate(); err != nil {
		respond.Fail(w, respond.Validation(err.Error()))
		return
	}

	if err := h.rules.Create(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			respond.Fail(w, respond.Conflict("a rule with this slug already exists"))
			return
		}
		h.logger.Errorw("create rule", "slug", rule.Slug, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	h.logger.Infow("rule created", "rule_id", rule.ID, "slug", rule.Slug, "admin", middleware.GetAdmin(r.Context()))
	respond.Created(w, rule)
}

// Get handles GET /api/v1/rules/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}
	respond.OK(w, rule)
}

// Update handles PUT /api/v1/rules/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if rerr := respond.Decode(w, r, &req); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	rule, ok := h.load(w, r)
	if !ok {
		return
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.EventType != nil {
		rule.EventType = *req.EventType
	}
	if req.Severity != nil {
		rule.Severity = models.Severity(*req.Severity)
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.WindowMinutes != nil {
		rule.WindowMinutes = *req.WindowMinutes
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := rule.Validate(); err != nil {
		respond.Fail(w, respond.Validation(err.Error()))
		return
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := h.rules.Update(r.Context(), rule); err != nil {
		h.logger.Errorw("update rule", "rule_id", rule.ID, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	h.logger.Infow("rule updated", "rule_id", rule.ID, "slug", rule.Slug, "admin", middleware.GetAdmin(r.Context()))
	respond.OK(w, rule)
}

// Delete handles DELETE /api/v1/rules/{id}. The rule's alerts and their
// history are deleted with it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.rules.Delete(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respond.Fail(w, respond.NotFound("rule not found"))
	case err != nil:
		h.logger.Errorw("delete rule", "rule_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
	default:
		h.logger.Infow("rule deleted", "rule_id", id, "admin", middleware.GetAdmin(r.Context()))
		respond.NoContent(w)
	}
}

// Enable handles POST /api/v1/rules/{id}/enable.
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /api/v1/rules/{id}/disable.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := h.rules.SetEnabled(ctx, id, enabled)
	if errors.Is(err, storage.ErrNotFound) {
		respond.Fail(w, respond.NotFound("rule not found"))
		return
	}
	if err != nil {
		h.logger.Errorw("set rule enabled", "rule_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	h.logger.Infow("rule state changed", "rule_id", id, "enabled", enabled, "admin", middleware.GetAdmin(ctx))

	h.Get(w, r)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.Rule, bool) {
	rule, err := h.rules.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respond.Fail(w, respond.NotFound("rule not found"))
		return nil, false
	}
	if err != nil {
		h.logger.Errorw("get rule", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return nil, false
	}
	return rule, true
}
