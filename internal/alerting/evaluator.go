package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// Upserter folds a rule breach into an alert.
type Upserter interface {
	Upsert(ctx context.Context, req UpsertRequest) (*models.Alert, error)
}

// Evaluator checks a new event against every enabled rule for its type.
type Evaluator struct {
	rules  storage.RuleDirectory
	events storage.EventCounter
	engine Upserter
	logger *zap.SugaredLogger
}

// NewEvaluator creates a window evaluator.
func NewEvaluator(rules storage.RuleDirectory, events storage.EventCounter, engine Upserter, logger *zap.SugaredLogger) *Evaluator {
	return &Evaluator{
		rules:  rules,
		events: events,
		engine: engine,
		logger: logger,
	}
}

// Evaluate runs every enabled rule for the event's type. The event must
// already be stored so that it counts toward its own window.
func (e *Evaluator) Evaluate(ctx context.Context, event *models.LogEvent) error {
	_, err := e.EvaluateEvent(ctx, event, nil)
	return err
}

// EvaluateEvent is Evaluate with a preloaded machine, returning the alerts
// that were created or updated. A failing rule does not stop the others;
// their errors are joined and returned after all rules ran.
func (e *Evaluator) EvaluateEvent(ctx context.Context, event *models.LogEvent, machine *models.Machine) ([]*models.Alert, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	rules, err := e.rules.FindEnabled(ctx, event.EventType)
	if err != nil {
		return nil, fmt.Errorf("find rules for %s: %w", event.EventType, err)
	}

	var (
		alerts []*models.Alert
		errs   []error
	)
	for _, rule := range rules {
		alert, err := e.evaluateRule(ctx, rule, event, machine)
		if err != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues("error").Inc()
			e.logger.Errorw("rule evaluation failed",
				"rule", rule.Slug, "event_id", event.ID, "machine_id", event.MachineID, "error", err)
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Slug, err))
			continue
		}
		if alert == nil {
			metrics.RuleEvaluationsTotal.WithLabelValues("below_threshold").Inc()
			continue
		}
		metrics.RuleEvaluationsTotal.WithLabelValues("breach").Inc()
		alerts = append(alerts, alert)
	}

	return alerts, errors.Join(errs...)
}

// evaluateRule counts events in [ts-window, ts] and upserts an alert when
// the count reaches the rule threshold. It returns nil when below threshold.
func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.Rule, event *models.LogEvent, machine *models.Machine) (*models.Alert, error) {
	start := time.Now()
	defer func() {
		metrics.RuleEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	filter := &storage.EventFilter{
		MachineID: event.MachineID,
		EventType: event.EventType,
		StartTime: event.Timestamp.Add(-rule.Window()),
		EndTime:   event.Timestamp,
	}
	if event.HasSourceIP() {
		filter.SourceIP = event.SourceIP
	}

	count, err := e.events.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if count < int64(rule.Threshold) {
		return nil, nil
	}

	e.logger.Debugw("rule threshold reached",
		"rule", rule.Slug, "machine_id", event.MachineID, "source_ip", event.SourceIP,
		"count", count, "threshold", rule.Threshold, "window_minutes", rule.WindowMinutes)

	return e.engine.Upsert(ctx, UpsertRequest{
		Rule:        rule,
		MachineID:   event.MachineID,
		Machine:     machine,
		SourceIP:    event.SourceIP,
		Occurrences: int(count),
		Metadata:    eventMetadata(event),
	})
}

// eventMetadata is the metadata carried from the triggering event into the
// alert.
func eventMetadata(event *models.LogEvent) models.Metadata {
	md := event.Metadata.Clone()
	if event.Username != "" {
		if _, ok := md["username"]; !ok {
			md["username"] = event.Username
		}
	}
	if event.CorrelationID != "" {
		if _, ok := md["correlation_id"]; !ok {
			md["correlation_id"] = event.CorrelationID
		}
	}
	return md
}
