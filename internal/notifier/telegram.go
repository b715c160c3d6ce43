package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// APIURL overrides the Bot API base URL.
	APIURL string
}

// Validate validates the Telegram configuration.
func (c *TelegramConfig) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot token is required")
	}
	if c.ChatID == "" {
		return fmt.Errorf("chat ID is required")
	}
	return nil
}

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	config     TelegramConfig
	httpClient *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier.
func NewTelegramNotifier(config TelegramConfig) (*TelegramNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telegram config: %w", err)
	}
	if config.APIURL == "" {
		config.APIURL = defaultTelegramAPI
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	return &TelegramNotifier{config: config, httpClient: newHTTPClient()}, nil
}

// Name returns "telegram".
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// telegramMaxText is the Bot API limit for message text.
const telegramMaxText = 4096

// Send posts the plain-text rendering to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, msg *Message) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.config.APIURL, t.config.BotToken)
	payload := telegramMessage{
		ChatID:                t.config.ChatID,
		Text:                  truncate(msg.Text, telegramMaxText),
		DisableWebPagePreview: true,
	}
	if err := postJSON(ctx, t.httpClient, "telegram", url, payload); err != nil {
		// The bot token is part of the URL; keep it out of logs.
		return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), t.config.BotToken, "***"))
	}
	return nil
}

// Close is a no-op for Telegram notifier.
func (t *TelegramNotifier) Close() error {
	return nil
}
