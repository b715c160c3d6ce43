package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	WebhookURL string // Teams incoming webhook URL
}

// Validate validates the Teams configuration.
func (c *TeamsConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsNotifier sends alerts to Microsoft Teams via webhook.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig) (*TeamsNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid teams config: %w", err)
	}
	return &TeamsNotifier{config: config, httpClient: newHTTPClient()}, nil
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send posts the alert as an Adaptive Card.
func (t *TeamsNotifier) Send(ctx context.Context, msg *Message) error {
	return postJSON(ctx, t.httpClient, "teams", t.config.WebhookURL, t.buildPayload(msg))
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
}

type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

func (t *TeamsNotifier) buildPayload(msg *Message) teamsMessage {
	alert := msg.Alert
	data := AlertToTemplateData(alert)
	emoji := severityEmoji(alert.Severity)

	title := fmt.Sprintf("%s %s", emoji, data.Title)
	if alert.IsEscalated {
		title = "ESCALATED: " + title
	}

	facts := []fact{
		{Title: "Rule", Value: data.RuleName},
		{Title: "Machine", Value: data.MachineName},
		{Title: "Severity", Value: data.Severity},
		{Title: "Status", Value: data.Status},
		{Title: "Occurrences", Value: fmt.Sprint(data.Occurrences)},
		{Title: "First seen", Value: data.FirstSeen},
		{Title: "Last seen", Value: data.LastSeen},
	}
	if data.SourceIP != "" {
		facts = append(facts, fact{Title: "Source IP", Value: data.SourceIP})
	}
	for _, item := range data.Metadata {
		facts = append(facts, fact{Title: item.Key, Value: item.Value})
	}

	body := []any{
		container{
			Type:  "Container",
			Style: teamsSeverityStyle(alert.Severity),
			Items: []any{
				textBlock{Type: "TextBlock", Text: title, Size: "Large", Weight: "Bolder", Wrap: true},
			},
		},
		factSet{Type: "FactSet", Facts: facts},
	}
	if data.Description != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: data.Description, Wrap: true})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: adaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
			},
		}},
	}
}

// teamsSeverityStyle maps severity to an Adaptive Card container style.
func teamsSeverityStyle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical, models.SeverityHigh:
		return "attention"
	case models.SeverityMedium:
		return "warning"
	case models.SeverityLow:
		return "good"
	default:
		return "default"
	}
}
