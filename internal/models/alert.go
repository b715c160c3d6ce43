package models

import (
	"fmt"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusClosed       AlertStatus = "closed"
)

// CanTransition reports whether an administrator may move an alert from s to next.
// Closed is terminal.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertStatusOpen:
		return next == AlertStatusAcknowledged || next == AlertStatusClosed
	case AlertStatusAcknowledged:
		return next == AlertStatusClosed
	default:
		return false
	}
}

// ParseAlertStatus converts a string to AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch AlertStatus(s) {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusClosed:
		return AlertStatus(s), nil
	}
	return "", fmt.Errorf("invalid alert status: %q", s)
}

// Alert is a deduplicated incident raised by a rule on a machine.
type Alert struct {
	ID          string      `json:"id"`
	RuleID      string      `json:"rule_id"`
	RuleName    string      `json:"rule_name,omitempty"`
	MachineID   string      `json:"machine_id"`
	MachineName string      `json:"machine_name,omitempty"`
	SourceIP    string      `json:"source_ip,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Occurrences int         `json:"occurrences"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
	IsEscalated bool        `json:"is_escalated"`
	EscalatedAt *time.Time  `json:"escalated_at,omitempty"`
	Metadata    Metadata    `json:"metadata,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Key returns the alert's deduplication key.
func (a *Alert) Key() DedupKey {
	return DedupKey{RuleID: a.RuleID, MachineID: a.MachineID, SourceIP: a.SourceIP}
}

// DedupKey identifies one ongoing incident. An empty SourceIP means the
// alert is machine-scoped.
type DedupKey struct {
	RuleID    string
	MachineID string
	SourceIP  string
}

func (k DedupKey) String() string {
	return "alert:" + k.RuleID + ":" + k.MachineID + ":" + k.SourceIP
}

// NotifyReason says why a notification is sent for an alert.
type NotifyReason string

const (
	NotifyReasonCreated   NotifyReason = "created"
	NotifyReasonEscalated NotifyReason = "escalated"
)
