package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Rule is a sliding-window threshold detection rule.
type Rule struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description,omitempty"`
	EventType     string    `json:"event_type"`
	Severity      Severity  `json:"severity"`
	Threshold     int       `json:"threshold"`
	WindowMinutes int       `json:"window_minutes"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Window returns the rule's trailing window length.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Validate checks the rule's invariants.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name is required")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return errors.New("rule event_type is required")
	}
	if !r.Severity.Valid() {
		return errors.New("rule severity is invalid")
	}
	if r.Threshold <= 0 {
		return errors.New("rule threshold must be positive")
	}
	if r.WindowMinutes < 0 {
		return errors.New("rule window_minutes must not be negative")
	}
	return nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe identifier from a rule name.
func Slugify(name string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}
