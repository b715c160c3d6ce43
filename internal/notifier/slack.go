package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends alerts to Slack via webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}
	return &SlackNotifier{config: config, httpClient: newHTTPClient()}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts the alert as a Block Kit message.
func (s *SlackNotifier) Send(ctx context.Context, msg *Message) error {
	return postJSON(ctx, s.httpClient, "slack", s.config.WebhookURL, s.buildPayload(msg))
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func mrkdwn(format string, args ...any) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// buildPayload builds the Slack Block Kit message payload. Text is the
// fallback shown in push notifications.
func (s *SlackNotifier) buildPayload(msg *Message) slackMessage {
	alert := msg.Alert
	data := AlertToTemplateData(alert)
	emoji := severityEmoji(alert.Severity)

	header := fmt.Sprintf("%s %s", emoji, truncate(data.Title, 140))
	if alert.IsEscalated {
		header = "⚠ ESCALATED " + header
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: header, Emoji: true},
		},
		{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*Rule:*\n%s", data.RuleName),
				mrkdwn("*Machine:*\n%s", data.MachineName),
				mrkdwn("*Severity:*\n%s %s", emoji, data.Severity),
				mrkdwn("*Occurrences:*\n%d", data.Occurrences),
				mrkdwn("*First seen:*\n%s", data.FirstSeen),
				mrkdwn("*Last seen:*\n%s", data.LastSeen),
			},
		},
	}

	if data.SourceIP != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Source IP:* `%s`", data.SourceIP)},
		})
	}

	if data.Description != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: truncate(data.Description, 2900)},
		})
	}

	if len(data.Metadata) > 0 {
		parts := make([]string, 0, len(data.Metadata))
		for _, item := range data.Metadata {
			parts = append(parts, fmt.Sprintf("`%s=%s`", item.Key, item.Value))
		}
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{mrkdwn("Metadata: %s", strings.Join(parts, " "))},
		})
	}

	return slackMessage{Text: msg.Subject, Blocks: blocks}
}
