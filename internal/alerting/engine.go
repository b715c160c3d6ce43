package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// systemActor is recorded in history entries written by the engine.
const systemActor = "system"

// Notifier receives alerts that need an outbound notification. It is called
// after the alert has been committed and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert, reason models.NotifyReason)
}

// UpsertRequest describes one rule breach to be folded into an alert.
type UpsertRequest struct {
	Rule      *models.Rule
	MachineID string
	// Machine is looked up by MachineID when nil.
	Machine  *models.Machine
	SourceIP string
	// Occurrences is the event count observed in the window.
	Occurrences int
	// Title, Description and Severity override the rule defaults when set.
	Title       string
	Description string
	Severity    models.Severity
	Metadata    models.Metadata
}

// Engine creates, updates and escalates alerts. All writes for one dedup
// key are serialized by a key lock and an immediate store transaction.
type Engine struct {
	alerts   storage.AlertRepository
	machines storage.MachineRepository
	locker   lock.KeyLocker
	notifier Notifier
	config   Config
	logger   *zap.SugaredLogger

	now func() time.Time
}

// NewEngine creates an alert engine. notifier may be nil.
func NewEngine(
	alerts storage.AlertRepository,
	machines storage.MachineRepository,
	locker lock.KeyLocker,
	notifier Notifier,
	config Config,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		alerts:   alerts,
		machines: machines,
		locker:   locker,
		notifier: notifier,
		config:   config.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// upsertResult is the outcome of one committed transaction.
type upsertResult struct {
	alert     *models.Alert
	action    models.HistoryAction
	reason    models.NotifyReason
	escalated bool
}

// Upsert folds a breach into the open alert for its dedup key, creating the
// alert when none is open. Notifications are sent after commit.
func (e *Engine) Upsert(ctx context.Context, req UpsertRequest) (*models.Alert, error) {
	if req.Rule == nil || req.Rule.ID == "" {
		return nil, fmt.Errorf("%w: rule is required", ErrInvalidEvent)
	}
	if req.Severity != "" && !req.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidEvent, req.Severity)
	}
	metadata, err := models.NormalizeMetadata(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	req.Metadata = metadata

	machine, err := e.resolveMachine(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Machine = machine

	key := models.DedupKey{RuleID: req.Rule.ID, MachineID: machine.ID, SourceIP: req.SourceIP}

	waitStart := time.Now()
	unlock, err := e.locker.Lock(ctx, key.String())
	metrics.LockWaitDuration.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrContention, err)
		}
		return nil, fmt.Errorf("acquire alert lock: %w", err)
	}
	defer unlock()

	var res upsertResult
	for attempt := 1; ; attempt++ {
		res, err = e.upsertOnce(ctx, key, req)
		if !errors.Is(err, storage.ErrOpenAlertExists) || attempt >= e.config.MaxUpsertAttempts {
			break
		}
		// Another writer created the alert between our read and insert;
		// the next attempt will find it and update instead.
		metrics.AlertUpsertRetries.Inc()
		e.logger.Debugw("dedup key raced, retrying", "key", key.String(), "attempt", attempt)
	}
	if err != nil {
		if errors.Is(err, storage.ErrBusy) || errors.Is(err, storage.ErrOpenAlertExists) {
			return nil, fmt.Errorf("%w: %w", ErrContention, err)
		}
		return nil, err
	}
	unlock()

	alert := res.alert
	metrics.AlertsTotal.WithLabelValues(string(res.action), string(alert.Severity)).Inc()
	if res.action == models.HistoryCreated {
		e.logger.Infow("alert created",
			"alert_id", alert.ID, "rule", req.Rule.Slug, "machine_id", alert.MachineID,
			"source_ip", alert.SourceIP, "severity", alert.Severity, "occurrences", alert.Occurrences)
	} else {
		e.logger.Debugw("alert updated",
			"alert_id", alert.ID, "occurrences", alert.Occurrences, "severity", alert.Severity)
	}
	if res.escalated {
		metrics.AlertsEscalated.WithLabelValues(string(alert.Severity)).Inc()
	}

	if res.reason != "" && e.notifier != nil {
		e.notifier.Notify(ctx, alert, res.reason)
	}
	return alert, nil
}

func (e *Engine) resolveMachine(ctx context.Context, req UpsertRequest) (*models.Machine, error) {
	if req.Machine != nil {
		if req.MachineID != "" && req.Machine.ID != req.MachineID {
			return nil, fmt.Errorf("%w: machine %s does not match %s", ErrInvalidEvent, req.Machine.ID, req.MachineID)
		}
		if !req.Machine.IsActive {
			return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownMachine, req.Machine.ID)
		}
		return req.Machine, nil
	}
	if req.MachineID == "" {
		return nil, fmt.Errorf("%w: machine_id is required", ErrInvalidEvent)
	}
	m, err := e.machines.GetByID(ctx, req.MachineID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMachine, req.MachineID)
	}
	if err != nil {
		return nil, fmt.Errorf("load machine: %w", err)
	}
	if !m.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownMachine, m.ID)
	}
	return m, nil
}

func (e *Engine) upsertOnce(ctx context.Context, key models.DedupKey, req UpsertRequest) (upsertResult, error) {
	var res upsertResult
	err := e.alerts.WithinTx(ctx, func(tx storage.AlertTx) error {
		now := e.now().UTC()

		existing, err := tx.FindOpen(ctx, key)
		if err != nil {
			return err
		}

		var alert *models.Alert
		if existing == nil {
			alert = e.newAlert(key, req, now)
			if err := tx.Insert(ctx, alert); err != nil {
				return err
			}
			res.action = models.HistoryCreated
			res.reason = models.NotifyReasonCreated
		} else {
			alert, err = tx.ApplyBreach(ctx, existing.ID, storage.Breach{
				Occurrences: req.Occurrences,
				Severity:    effectiveSeverity(req),
				Metadata:    existing.Metadata.Merge(req.Metadata),
				SeenAt:      now,
			})
			if err != nil {
				return fmt.Errorf("update alert %s: %w", existing.ID, err)
			}
			res.action = models.HistoryUpdated
		}

		if err := tx.AddHistory(ctx, historyEntry(alert, res.action, now)); err != nil {
			return err
		}

		if ShouldEscalate(alert, e.config.EscalationThreshold) {
			changed, err := tx.MarkEscalated(ctx, alert.ID, now)
			if err != nil {
				return err
			}
			if changed {
				alert.IsEscalated = true
				alert.EscalatedAt = &now
				res.escalated = true
				if res.reason == "" {
					res.reason = models.NotifyReasonEscalated
				}
				if err := tx.AddHistory(ctx, historyEntry(alert, models.HistoryEscalated, now)); err != nil {
					return err
				}
			}
		}

		res.alert = alert
		return nil
	})
	return res, err
}

func (e *Engine) newAlert(key models.DedupKey, req UpsertRequest, now time.Time) *models.Alert {
	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Rule '%s' triggered on %s", req.Rule.Name, req.Machine.DisplayName())
	}
	description := req.Description
	if description == "" {
		description = req.Rule.Description
	}
	return &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      key.RuleID,
		RuleName:    req.Rule.Name,
		MachineID:   key.MachineID,
		MachineName: req.Machine.DisplayName(),
		SourceIP:    key.SourceIP,
		Title:       title,
		Description: description,
		Severity:    effectiveSeverity(req),
		Status:      models.AlertStatusOpen,
		Occurrences: max(req.Occurrences, 1),
		FirstSeen:   now,
		LastSeen:    now,
		Metadata:    req.Metadata.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func effectiveSeverity(req UpsertRequest) models.Severity {
	if req.Severity != "" {
		return req.Severity
	}
	return req.Rule.Severity
}

func historyEntry(a *models.Alert, action models.HistoryAction, at time.Time) *models.AlertHistory {
	var msg string
	switch action {
	case models.HistoryCreated:
		msg = fmt.Sprintf("alert created with %d occurrence(s)", a.Occurrences)
	case models.HistoryUpdated:
		msg = fmt.Sprintf("occurrences now %d", a.Occurrences)
	case models.HistoryEscalated:
		msg = fmt.Sprintf("escalated at %s severity with %d occurrence(s)", a.Severity, a.Occurrences)
	}
	return &models.AlertHistory{
		AlertID:     a.ID,
		Action:      action,
		Severity:    a.Severity,
		Occurrences: a.Occurrences,
		Message:     msg,
		Actor:       systemActor,
		CreatedAt:   at,
	}
}
