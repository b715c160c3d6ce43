package notifier

import (
	"time"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

func testAlert() *models.Alert {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Alert{
		ID:          "alert-1",
		RuleID:      "rule-1",
		RuleName:    "SSH brute force",
		MachineID:   "machine-1",
		MachineName: "web-01.example.com",
		SourceIP:    "10.0.0.5",
		Title:       "Rule 'SSH brute force' triggered on web-01.example.com",
		Description: "Repeated failed SSH logins",
		Severity:    models.SeverityHigh,
		Status:      models.AlertStatusOpen,
		Occurrences: 3,
		FirstSeen:   first,
		LastSeen:    first.Add(2 * time.Minute),
		Metadata:    models.Metadata{"username": "root", "port": int64(22)},
	}
}

func testMessage() *Message {
	msg, err := LoadTemplates().Render(testAlert(), models.NotifyReasonCreated)
	if err != nil {
		panic(err)
	}
	return msg
}
