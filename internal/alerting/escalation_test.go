package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

func TestShouldEscalate(t *testing.T) {
	const threshold = 10

	tests := []struct {
		name        string
		severity    models.Severity
		occurrences int
		escalated   bool
		want        bool
	}{
		{"already escalated", models.SeverityCritical, 50, true, false},
		{"critical at first occurrence", models.SeverityCritical, 1, false, true},
		{"high below threshold", models.SeverityHigh, 9, false, false},
		{"high at threshold", models.SeverityHigh, 10, false, true},
		{"medium at threshold", models.SeverityMedium, 10, false, false},
		{"medium below double threshold", models.SeverityMedium, 19, false, false},
		{"medium at double threshold", models.SeverityMedium, 20, false, true},
		{"info at double threshold", models.SeverityInfo, 20, false, true},
		{"low far below", models.SeverityLow, 1, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := &models.Alert{Severity: tt.severity, Occurrences: tt.occurrences, IsEscalated: tt.escalated}
			assert.Equal(t, tt.want, ShouldEscalate(alert, threshold))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 10, cfg.EscalationThreshold)
	assert.Equal(t, 3, cfg.MaxUpsertAttempts)

	cfg = Config{EscalationThreshold: 4, MaxUpsertAttempts: 1}.withDefaults()
	assert.Equal(t, 4, cfg.EscalationThreshold)
	assert.Equal(t, 1, cfg.MaxUpsertAttempts)
}
