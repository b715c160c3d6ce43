package notifier

import "fmt"

// ChannelsConfig holds the destination settings of every supported channel.
type ChannelsConfig struct {
	Email    EmailConfig
	Slack    SlackConfig
	Telegram TelegramConfig
	Teams    TeamsConfig
}

// RegisterConfigured registers each channel whose destination is set.
// A channel with no destination is skipped; a channel with a destination but
// invalid settings is an error.
func (d *Dispatcher) RegisterConfigured(cfg ChannelsConfig) error {
	if cfg.Email.Configured() {
		n, err := NewEmailNotifier(cfg.Email)
		if err != nil {
			return err
		}
		d.Register(n)
	}
	if cfg.Slack.WebhookURL != "" {
		n, err := NewSlackNotifier(cfg.Slack)
		if err != nil {
			return err
		}
		d.Register(n)
	}
	if cfg.Telegram.BotToken != "" || cfg.Telegram.ChatID != "" {
		n, err := NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			return err
		}
		d.Register(n)
	}
	if cfg.Teams.WebhookURL != "" {
		n, err := NewTeamsNotifier(cfg.Teams)
		if err != nil {
			return err
		}
		d.Register(n)
	}

	if len(d.Channels()) == 0 {
		d.logger.Info("no notification channels configured")
	} else {
		d.logger.Infow("notification channels registered", "channels", d.Channels())
	}
	return nil
}

func (c ChannelsConfig) String() string {
	return fmt.Sprintf("email=%t slack=%t telegram=%t teams=%t",
		c.Email.Configured(), c.Slack.WebhookURL != "", c.Telegram.BotToken != "", c.Teams.WebhookURL != "")
}
