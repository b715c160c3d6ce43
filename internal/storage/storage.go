// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique field (slug, token) is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrOpenAlertExists is returned by AlertTx.Insert when another open alert
	// already holds the same dedup key.
	ErrOpenAlertExists = errors.New("open alert already exists for dedup key")
	// ErrInvalidTransition is returned when an alert status change is not allowed.
	ErrInvalidTransition = errors.New("invalid alert status transition")
	// ErrBusy is returned when the database write lock could not be acquired.
	ErrBusy = errors.New("database busy")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	Machines() MachineRepository
	Rules() RuleRepository
	Events() EventRepository
	Alerts() AlertRepository
}

// MachineRepository defines operations for registered agent machines.
type MachineRepository interface {
	Create(ctx context.Context, m *models.Machine) error
	GetByID(ctx context.Context, id string) (*models.Machine, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Machine, error)
	List(ctx context.Context) ([]*models.Machine, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Touch records a heartbeat.
	Touch(ctx context.Context, id string, at time.Time) error
}

// RuleDirectory is the read side of the rule store used during evaluation.
type RuleDirectory interface {
	FindEnabled(ctx context.Context, eventType string) ([]*models.Rule, error)
}

// RuleRepository defines operations for detection rule management.
type RuleRepository interface {
	RuleDirectory
	Create(ctx context.Context, r *models.Rule) error
	GetByID(ctx context.Context, id string) (*models.Rule, error)
	GetBySlug(ctx context.Context, slug string) (*models.Rule, error)
	Update(ctx context.Context, r *models.Rule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Rule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// EventFilter selects log events. Zero values are ignored, except that
// StartTime and EndTime bound the range inclusively when set.
type EventFilter struct {
	MachineID string
	EventType string
	SourceIP  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// EventCounter counts stored events.
type EventCounter interface {
	Count(ctx context.Context, filter *EventFilter) (int64, error)
}

// EventRepository defines append-only log event persistence.
type EventRepository interface {
	EventCounter
	Insert(ctx context.Context, e *models.LogEvent) error
	List(ctx context.Context, filter *EventFilter) ([]*models.LogEvent, error)
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status    models.AlertStatus
	Severity  models.Severity
	MachineID string
	RuleID    string
	Limit     int
	Offset    int
}

// Breach carries the fields applied to an open alert on a repeated match.
type Breach struct {
	Occurrences int
	Severity    models.Severity
	Metadata    models.Metadata
	SeenAt      time.Time
}

// AlertTx is the set of alert operations available inside a write transaction.
type AlertTx interface {
	// FindOpen returns the open alert for key, or nil when none exists.
	FindOpen(ctx context.Context, key models.DedupKey) (*models.Alert, error)
	// Insert creates a new alert. Returns ErrOpenAlertExists when the key is taken.
	Insert(ctx context.Context, a *models.Alert) error
	// ApplyBreach bumps an open alert in a single statement and returns the new row.
	ApplyBreach(ctx context.Context, id string, b Breach) (*models.Alert, error)
	// MarkEscalated sets is_escalated once. Reports false if it was already set.
	MarkEscalated(ctx context.Context, id string, at time.Time) (bool, error)
	AddHistory(ctx context.Context, h *models.AlertHistory) error
}

// AlertRepository defines operations for alerts.
type AlertRepository interface {
	// WithinTx runs fn in a write transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx AlertTx) error) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, filter *AlertFilter) ([]*models.Alert, int64, error)
	SetStatus(ctx context.Context, id string, status models.AlertStatus, actor string) (*models.Alert, error)
	History(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error)
}
