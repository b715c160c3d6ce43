// Package models contains the core data structures for SIEM-Lite.
package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Well-known event types.
const (
	EventTypeSSHFailedLogin  = "ssh_failed_login"
	EventTypeSSHSuccessLogin = "ssh_success_login"
	EventTypeSudoCommand     = "sudo_command"
	EventTypeAuthFailure     = "auth_failure"
)

// Event timestamps are stored as Unix nanoseconds; times outside this range
// cannot be represented.
var (
	MinEventTime = time.Unix(0, 0).UTC()
	MaxEventTime = time.Unix(0, math.MaxInt64).UTC()
)

// ValidEventTime reports whether ts can be stored as an event timestamp.
func ValidEventTime(ts time.Time) bool {
	return !ts.Before(MinEventTime) && !ts.After(MaxEventTime)
}

// LogEvent is a normalized, immutable log event submitted by a machine.
type LogEvent struct {
	ID            string    `json:"id"`
	MachineID     string    `json:"machine_id"`
	Timestamp     time.Time `json:"timestamp"`
	IngestedAt    time.Time `json:"ingested_at"`
	EventType     string    `json:"event_type"`
	Severity      Severity  `json:"severity"`
	RawMessage    string    `json:"raw_message"`
	SourceIP      string    `json:"source_ip,omitempty"`
	Username      string    `json:"username,omitempty"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Validate checks that the event carries the identity needed for evaluation.
func (e *LogEvent) Validate() error {
	if e.MachineID == "" {
		return errors.New("event machine_id is required")
	}
	if e.EventType == "" {
		return errors.New("event event_type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("event timestamp is required")
	}
	if !ValidEventTime(e.Timestamp) {
		return fmt.Errorf("event timestamp %s is out of range", e.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

// HasSourceIP reports whether the event carries a source address.
func (e *LogEvent) HasSourceIP() bool {
	return e.SourceIP != ""
}
