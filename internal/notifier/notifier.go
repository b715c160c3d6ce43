// Package notifier provides best-effort notification dispatching for alerts.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

// Message is a rendered alert notification handed to every channel.
type Message struct {
	Subject string
	Text    string
	HTML    string
	Reason  models.NotifyReason
	Alert   *models.Alert
}

// Channel is a notification destination such as email or a chat webhook.
type Channel interface {
	// Name returns the channel name (e.g., "email", "slack").
	Name() string
	Send(ctx context.Context, msg *Message) error
	// Close releases any resources.
	Close() error
}

// Config holds dispatcher settings.
type Config struct {
	// Timeout bounds each channel send.
	Timeout   time.Duration
	RateLimit RateLimitConfig
}

// DeliveryReport lists the outcome per channel of one dispatch.
type DeliveryReport struct {
	Sent        []string
	Failed      []string
	RateLimited []string
}

// Dispatcher fans an alert out to every registered channel.
type Dispatcher struct {
	mu          sync.RWMutex
	channels    map[string]Channel
	rateLimiter *RateLimiter
	templates   *Templates
	timeout     time.Duration
	logger      *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher with no channels.
func NewDispatcher(cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		channels:    make(map[string]Channel),
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		templates:   LoadTemplates(),
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Register adds a channel to the dispatcher.
func (d *Dispatcher) Register(c Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[c.Name()] = c
}

// Unregister removes a channel from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, name)
}

// Channels returns the registered channel names in sorted order.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify sends the alert to every channel. It never fails: channel errors
// are logged and counted.
func (d *Dispatcher) Notify(ctx context.Context, alert *models.Alert, reason models.NotifyReason) {
	d.Deliver(ctx, alert, reason)
}

// Deliver sends the alert to every channel concurrently, each bounded by the
// dispatcher timeout, and reports the per-channel outcome. Cancellation of
// ctx does not abort sends already in flight.
func (d *Dispatcher) Deliver(ctx context.Context, alert *models.Alert, reason models.NotifyReason) DeliveryReport {
	var report DeliveryReport

	d.mu.RLock()
	channels := make([]Channel, 0, len(d.channels))
	for _, c := range d.channels {
		channels = append(channels, c)
	}
	d.mu.RUnlock()

	if len(channels) == 0 {
		return report
	}

	msg, err := d.templates.Render(alert, reason)
	if err != nil {
		d.logger.Errorw("failed to render notification", "alert_id", alert.ID, "error", err)
		return report
	}

	var mu sync.Mutex
	record := func(list *[]string, name string) {
		mu.Lock()
		*list = append(*list, name)
		mu.Unlock()
	}

	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, c := range channels {
		g.Go(func() error {
			name := c.Name()
			if !d.rateLimiter.Allow(name) {
				metrics.NotificationsRateLimited.WithLabelValues(name).Inc()
				d.logger.Warnw("notification rate limited", "channel", name, "alert_id", alert.ID)
				record(&report.RateLimited, name)
				return nil
			}

			sendCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			if err := safeSend(sendCtx, c, msg); err != nil {
				metrics.NotificationErrors.WithLabelValues(name).Inc()
				d.logger.Warnw("notification failed",
					"channel", name, "alert_id", alert.ID, "reason", reason, "error", err)
				record(&report.Failed, name)
				return nil
			}

			metrics.NotificationsSent.WithLabelValues(name, string(reason)).Inc()
			d.logger.Infow("notification sent", "channel", name, "alert_id", alert.ID, "reason", reason)
			record(&report.Sent, name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Sent)
	sort.Strings(report.Failed)
	sort.Strings(report.RateLimited)
	return report
}

// safeSend turns a panicking channel into an error.
func safeSend(ctx context.Context, c Channel, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s channel: %v", c.Name(), r)
		}
	}()
	return c.Send(ctx, msg)
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	return d.rateLimiter.Stats()
}

// Close closes all registered channels.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, c := range d.channels {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.channels = make(map[string]Channel)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
