package models

import "time"

// HistoryAction names a change recorded in an alert's history.
type HistoryAction string

const (
	HistoryCreated      HistoryAction = "created"
	HistoryUpdated      HistoryAction = "updated"
	HistoryEscalated    HistoryAction = "escalated"
	HistoryAcknowledged HistoryAction = "acknowledged"
	HistoryClosed       HistoryAction = "closed"
)

// AlertHistory records one change to an alert.
type AlertHistory struct {
	ID          string        `json:"id"`
	AlertID     string        `json:"alert_id"`
	Action      HistoryAction `json:"action"`
	Severity    Severity      `json:"severity"`
	Occurrences int           `json:"occurrences"`
	Message     string        `json:"message,omitempty"`
	Actor       string        `json:"actor,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
