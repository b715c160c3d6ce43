// Package alerts provides HTTP handlers for triaging alerts.
package alerts

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/api/middleware"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Handler handles alert endpoints.
type Handler struct {
	alerts storage.AlertRepository
	logger *zap.SugaredLogger
}

// NewHandler creates a new alerts handler.
func NewHandler(alerts storage.AlertRepository, logger *zap.SugaredLogger) *Handler {
	return &Handler{alerts: alerts, logger: logger}
}

// List handles GET /api/v1/alerts with status, severity, machine_id and
// rule_id filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, rerr := respond.ParsePagination(r)
	if rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	q := r.URL.Query()
	filter := &storage.AlertFilter{
		MachineID: q.Get("machine_id"),
		RuleID:    q.Get("rule_id"),
		Limit:     page.PerPage,
		Offset:    page.Offset(),
	}
	if s := q.Get("status"); s != "" {
		status, err := models.ParseAlertStatus(s)
		if err != nil {
			respond.Fail(w, respond.BadRequest(err.Error()))
			return
		}
		filter.Status = status
	}
	if s := q.Get("severity"); s != "" {
		severity, err := models.ParseSeverity(s)
		if err != nil {
			respond.Fail(w, respond.BadRequest(err.Error()))
			return
		}
		filter.Severity = severity
	}

	alerts, total, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		h.logger.Errorw("list alerts", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	respond.OK(w, respond.NewPage(alerts, total, page))
}

// Get handles GET /api/v1/alerts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respond.Fail(w, respond.NotFound("alert not found"))
		return
	}
	if err != nil {
		h.logger.Errorw("get alert", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	respond.OK(w, alert)
}

// Acknowledge handles POST /api/v1/alerts/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.AlertStatusAcknowledged)
}

// Close handles POST /api/v1/alerts/{id}/close. A later breach on the same
// key opens a new alert.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.AlertStatusClosed)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status models.AlertStatus) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	actor := middleware.GetAdmin(ctx)

	alert, err := h.alerts.SetStatus(ctx, id, status, actor)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respond.Fail(w, respond.NotFound("alert not found"))
	case errors.Is(err, storage.ErrInvalidTransition):
		respond.Fail(w, respond.Conflict(err.Error()))
	case err != nil:
		h.logger.Errorw("set alert status", "alert_id", id, "status", status, "error", err)
		respond.Fail(w, respond.ErrInternal)
	default:
		h.logger.Infow("alert status changed", "alert_id", id, "status", status, "actor", actor)
		respond.OK(w, alert)
	}
}

// History handles GET /api/v1/alerts/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page, rerr := respond.ParsePagination(r)
	if rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.alerts.GetByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Fail(w, respond.NotFound("alert not found"))
			return
		}
		h.logger.Errorw("get alert", "alert_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	entries, total, err := h.alerts.History(ctx, id, page.PerPage, page.Offset())
	if err != nil {
		h.logger.Errorw("alert history", "alert_id", id, "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}
	respond.OK(w, respond.NewPage(entries, total, page))
}
