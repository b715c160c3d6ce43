// Package logs provides HTTP handlers for event ingestion and browsing.
package logs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/api/middleware"
	"github.com/good-yellow-bee/siemlite/internal/api/respond"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Ingester stores and evaluates an event for an authenticated machine.
type Ingester interface {
	Ingest(ctx context.Context, machine *models.Machine, transport ingest.Transport, in *ingest.Event) (*ingest.Result, error)
}

// Handler handles log endpoints.
type Handler struct {
	ingester Ingester
	events   storage.EventRepository
	logger   *zap.SugaredLogger
}

// NewHandler creates a new logs handler.
func NewHandler(ingester Ingester, events storage.EventRepository, logger *zap.SugaredLogger) *Handler {
	return &Handler{ingester: ingester, events: events, logger: logger}
}

// UnavailableResponse is the error body of a 503 returned after the event
// was stored. Clients must not resubmit the event.
type UnavailableResponse struct {
	Error   *respond.Error `json:"error"`
	EventID string         `json:"event_id"`
}

// Ingest handles POST /api/v1/logs/ingest. The machine comes from
// MachineAuth.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if machine == nil {
		respond.Fail(w, respond.ErrUnauthorized)
		return
	}

	var in ingest.Event
	if rerr := respond.Decode(w, r, &in); rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	res, err := h.ingester.Ingest(r.Context(), machine, ingest.TransportHTTP, &in)
	switch {
	case err == nil:
		respond.Created(w, res)
	case ingest.IsStored(res, err):
		// The event is kept; only detection failed.
		rerr := respond.Unavailable("event stored but alert evaluation failed")
		if errors.Is(err, alerting.ErrContention) {
			rerr = respond.Unavailable("event stored but alert evaluation hit contention")
		}
		w.Header().Set("Retry-After", "1")
		respond.JSON(w, rerr.Status, UnavailableResponse{Error: rerr, EventID: res.ID})
	case errors.Is(err, alerting.ErrInvalidEvent):
		respond.Fail(w, respond.Validation(respond.Describe(err)))
	case errors.Is(err, alerting.ErrUnknownMachine):
		respond.Fail(w, respond.ErrUnauthorized)
	default:
		h.logger.Errorw("ingest event", "machine_id", machine.ID, "error", err)
		respond.Fail(w, respond.ErrInternal)
	}
}

// List handles GET /api/v1/logs with machine_id, event_type, source_ip,
// start and end (RFC 3339) filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, rerr := respond.ParsePagination(r)
	if rerr != nil {
		respond.Fail(w, rerr)
		return
	}

	q := r.URL.Query()
	filter := &storage.EventFilter{
		MachineID: q.Get("machine_id"),
		EventType: q.Get("event_type"),
		SourceIP:  q.Get("source_ip"),
	}
	var err error
	if s := q.Get("start"); s != "" {
		if filter.StartTime, err = time.Parse(time.RFC3339, s); err != nil {
			respond.Fail(w, respond.BadRequest("invalid start time format (use RFC3339)"))
			return
		}
	}
	if s := q.Get("end"); s != "" {
		if filter.EndTime, err = time.Parse(time.RFC3339, s); err != nil {
			respond.Fail(w, respond.BadRequest("invalid end time format (use RFC3339)"))
			return
		}
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.StartTime.After(filter.EndTime) {
		respond.Fail(w, respond.BadRequest("start time must be before end time"))
		return
	}

	ctx := r.Context()
	total, err := h.events.Count(ctx, filter)
	if err != nil {
		h.logger.Errorw("count events", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	filter.Limit = page.PerPage
	filter.Offset = page.Offset()
	events, err := h.events.List(ctx, filter)
	if err != nil {
		h.logger.Errorw("list events", "error", err)
		respond.Fail(w, respond.ErrInternal)
		return
	}

	respond.OK(w, respond.NewPage(events, total, page))
}
