// Package ingest accepts log events from authenticated machines, stores them
// and runs detection synchronously.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Transport names the channel an event arrived on.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
)

// StatusIngested is the status reported for a stored event.
const StatusIngested = "ingested"

// MaxClockSkew is how far ahead of the server clock an event timestamp may be.
const MaxClockSkew = 24 * time.Hour

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is one normalized event as submitted by an agent. The machine is
// taken from the caller's credentials, never from the payload.
type Event struct {
	Timestamp     time.Time      `json:"timestamp" validate:"required"`
	EventType     string         `json:"event_type" validate:"required,max=64"`
	Severity      string         `json:"severity,omitempty" validate:"omitempty,oneof=info low medium high critical"`
	RawMessage    string         `json:"raw_message" validate:"required,max=65536"`
	SourceIP      string         `json:"source_ip,omitempty" validate:"omitempty,ip"`
	Username      string         `json:"username,omitempty" validate:"max=150"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty" validate:"max=128"`
}

// Result is returned for a stored event.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Alerts int    `json:"alerts"`
}

// Evaluator runs detection on a stored event.
type Evaluator interface {
	EvaluateEvent(ctx context.Context, event *models.LogEvent, machine *models.Machine) ([]*models.Alert, error)
}

// Service stores events and evaluates them.
type Service struct {
	events    storage.EventRepository
	machines  storage.MachineRepository
	evaluator Evaluator
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewService creates an ingestion service.
func NewService(events storage.EventRepository, machines storage.MachineRepository, evaluator Evaluator, logger *zap.SugaredLogger) *Service {
	return &Service{
		events:    events,
		machines:  machines,
		evaluator: evaluator,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest validates in, records a heartbeat for machine, stores the event and
// evaluates it. When evaluation fails after the event was stored, the result
// is returned together with the error so callers can report the event ID.
func (s *Service) Ingest(ctx context.Context, machine *models.Machine, transport Transport, in *Event) (*Result, error) {
	if machine == nil || !machine.IsActive {
		metrics.IngestErrors.WithLabelValues("unknown_machine").Inc()
		return nil, alerting.ErrUnknownMachine
	}

	event, err := s.build(machine, in)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := s.machines.Touch(ctx, machine.ID, event.IngestedAt); err != nil {
		s.logger.Warnw("heartbeat update failed", "machine_id", machine.ID, "error", err)
	}

	if err := s.events.Insert(ctx, event); err != nil {
		metrics.IngestErrors.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("store event: %w", err)
	}
	metrics.EventsIngestedTotal.WithLabelValues(string(transport), event.EventType).Inc()

	res := &Result{ID: event.ID, Status: StatusIngested}

	alerts, err := s.evaluator.EvaluateEvent(ctx, event, machine)
	res.Alerts = len(alerts)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("evaluate").Inc()
		s.logger.Errorw("event stored but evaluation failed",
			"event_id", event.ID, "machine_id", machine.ID, "event_type", event.EventType, "error", err)
		return res, fmt.Errorf("evaluate event %s: %w", event.ID, err)
	}

	s.logger.Debugw("event ingested",
		"event_id", event.ID, "machine_id", machine.ID, "event_type", event.EventType,
		"transport", transport, "alerts", res.Alerts)
	return res, nil
}

func (s *Service) build(machine *models.Machine, in *Event) (*models.LogEvent, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: empty event", alerting.ErrInvalidEvent)
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", alerting.ErrInvalidEvent, err)
	}
	now := s.now().UTC()
	ts := in.Timestamp.UTC()
	if !models.ValidEventTime(ts) || ts.After(now.Add(MaxClockSkew)) {
		return nil, fmt.Errorf("%w: timestamp %s is out of range", alerting.ErrInvalidEvent, ts.Format(time.RFC3339))
	}

	severity := models.SeverityInfo
	if in.Severity != "" {
		sev, err := models.ParseSeverity(in.Severity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", alerting.ErrInvalidEvent, err)
		}
		severity = sev
	}

	metadata, err := models.NormalizeMetadata(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alerting.ErrInvalidEvent, err)
	}

	return &models.LogEvent{
		ID:            uuid.New().String(),
		MachineID:     machine.ID,
		Timestamp:     ts,
		IngestedAt:    now,
		EventType:     in.EventType,
		Severity:      severity,
		RawMessage:    in.RawMessage,
		SourceIP:      in.SourceIP,
		Username:      in.Username,
		Metadata:      metadata,
		CorrelationID: in.CorrelationID,
	}, nil
}

// IsStored reports whether err came from a failure after the event was
// already persisted.
func IsStored(res *Result, err error) bool {
	return err != nil && res != nil && res.ID != ""
}

