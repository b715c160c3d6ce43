package alerting

import "github.com/good-yellow-bee/siemlite/internal/models"

// ShouldEscalate reports whether alert needs to be escalated now, given the
// escalation threshold t. An alert escalates at most once.
func ShouldEscalate(alert *models.Alert, t int) bool {
	switch {
	case alert.IsEscalated:
		return false
	case alert.Severity == models.SeverityCritical:
		return true
	case alert.Severity == models.SeverityHigh && alert.Occurrences >= t:
		return true
	default:
		return alert.Occurrences >= 2*t
	}
}
