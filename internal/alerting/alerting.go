// Package alerting turns stored log events into deduplicated, escalating
// alerts. The Evaluator counts events in each matching rule's trailing window
// and hands breaches to the Engine, which owns the alert rows.
package alerting

import "errors"

var (
	// ErrInvalidEvent is returned when an event lacks the identity needed
	// for evaluation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnknownMachine is returned when an event names a machine that is
	// not registered or no longer active.
	ErrUnknownMachine = errors.New("unknown machine")
	// ErrContention is returned when the alert for a dedup key could not be
	// written because other writers held it for too long. Callers may retry.
	ErrContention = errors.New("alert contention")
)

// Config holds engine settings.
type Config struct {
	// EscalationThreshold is the occurrence count T used by ShouldEscalate.
	EscalationThreshold int
	// MaxUpsertAttempts bounds transaction retries after a dedup-key race.
	MaxUpsertAttempts int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		EscalationThreshold: 10,
		MaxUpsertAttempts:   3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = d.EscalationThreshold
	}
	if c.MaxUpsertAttempts <= 0 {
		c.MaxUpsertAttempts = d.MaxUpsertAttempts
	}
	return c
}
