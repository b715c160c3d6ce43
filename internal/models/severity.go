package models

import (
	"fmt"
	"strings"
)

// Severity is an ordered alert/event severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Severities lists all levels in ascending order.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the position of s in the info < low < medium < high < critical
// order. Unknown values rank 0.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Outranks reports whether s is strictly more severe than other.
func (s Severity) Outranks(other Severity) bool {
	return s.Rank() > other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Outranks(a) {
		return b
	}
	return a
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity: %q", s)
	}
	return sev, nil
}
