package notifier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

type mockChannel struct {
	name  string
	err   error
	delay time.Duration
	panic bool
	calls atomic.Int32
	last  atomic.Pointer[Message]
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, msg *Message) error {
	m.calls.Add(1)
	m.last.Store(msg)
	if m.panic {
		panic("boom")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *mockChannel) Close() error { return nil }

func newTestDispatcher(timeout time.Duration) *Dispatcher {
	return NewDispatcher(Config{Timeout: timeout}, zap.NewNop().Sugar())
}

func TestDispatcher_NoChannelsIsNoop(t *testing.T) {
	d := newTestDispatcher(time.Second)
	report := d.Deliver(context.Background(), testAlert(), models.NotifyReasonCreated)
	if len(report.Sent)+len(report.Failed) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}

func TestDispatcher_FailureDoesNotBlockOtherChannels(t *testing.T) {
	d := newTestDispatcher(time.Second)
	ok := &mockChannel{name: "ok"}
	failing := &mockChannel{name: "failing", err: errors.New("smtp down")}
	panicking := &mockChannel{name: "panicking", panic: true}
	d.Register(ok)
	d.Register(failing)
	d.Register(panicking)

	report := d.Deliver(context.Background(), testAlert(), models.NotifyReasonCreated)

	if len(report.Sent) != 1 || report.Sent[0] != "ok" {
		t.Errorf("Sent = %v", report.Sent)
	}
	if len(report.Failed) != 2 {
		t.Errorf("Failed = %v", report.Failed)
	}
	if ok.calls.Load() != 1 {
		t.Errorf("healthy channel called %d times", ok.calls.Load())
	}
	if msg := ok.last.Load(); msg == nil || msg.Reason != models.NotifyReasonCreated {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestDispatcher_TimeoutBoundsSlowChannel(t *testing.T) {
	d := newTestDispatcher(50 * time.Millisecond)
	slow := &mockChannel{name: "slow", delay: 5 * time.Second}
	fast := &mockChannel{name: "fast"}
	d.Register(slow)
	d.Register(fast)

	start := time.Now()
	report := d.Deliver(context.Background(), testAlert(), models.NotifyReasonEscalated)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dispatch took %v, timeout not applied", elapsed)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "slow" {
		t.Errorf("Failed = %v", report.Failed)
	}
	if len(report.Sent) != 1 || report.Sent[0] != "fast" {
		t.Errorf("Sent = %v", report.Sent)
	}
}

func TestDispatcher_CanceledCallerStillDelivers(t *testing.T) {
	d := newTestDispatcher(time.Second)
	c := &mockChannel{name: "ok", delay: 10 * time.Millisecond}
	d.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := d.Deliver(ctx, testAlert(), models.NotifyReasonCreated)
	if len(report.Sent) != 1 {
		t.Errorf("expected delivery despite canceled caller, got %+v", report)
	}
}

func TestDispatcher_RateLimitPerChannel(t *testing.T) {
	d := NewDispatcher(Config{
		Timeout:   time.Second,
		RateLimit: RateLimitConfig{Enabled: true, MaxPerWindow: 1, Window: time.Hour},
	}, zap.NewNop().Sugar())
	a := &mockChannel{name: "a"}
	b := &mockChannel{name: "b"}
	d.Register(a)
	d.Register(b)

	d.Notify(context.Background(), testAlert(), models.NotifyReasonCreated)
	report := d.Deliver(context.Background(), testAlert(), models.NotifyReasonCreated)

	if len(report.RateLimited) != 2 {
		t.Errorf("RateLimited = %v", report.RateLimited)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Errorf("calls = %d, %d", a.calls.Load(), b.calls.Load())
	}
	if got := d.RateLimitStats().Dropped; got != 2 {
		t.Errorf("Dropped = %d", got)
	}
}

func TestDispatcher_RegisterConfiguredSkipsMissingDestinations(t *testing.T) {
	d := newTestDispatcher(time.Second)
	err := d.RegisterConfigured(ChannelsConfig{
		Slack:    SlackConfig{WebhookURL: "https://hooks.slack.com/services/x"},
		Telegram: TelegramConfig{BotToken: "123:abc", ChatID: "42"},
	})
	if err != nil {
		t.Fatalf("RegisterConfigured: %v", err)
	}
	got := d.Channels()
	if len(got) != 2 || got[0] != "slack" || got[1] != "telegram" {
		t.Errorf("Channels = %v", got)
	}

	if err := newTestDispatcher(time.Second).RegisterConfigured(ChannelsConfig{
		Teams: TeamsConfig{WebhookURL: "http://insecure"},
	}); err == nil {
		t.Error("invalid teams destination should fail")
	}
	if err := newTestDispatcher(time.Second).RegisterConfigured(ChannelsConfig{
		Telegram: TelegramConfig{BotToken: "123:abc"},
	}); err == nil {
		t.Error("telegram without chat id should fail")
	}
}

func TestDispatcher_Close(t *testing.T) {
	d := newTestDispatcher(time.Second)
	d.Register(&mockChannel{name: "a"})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(d.Channels()) != 0 {
		t.Error("channels should be cleared after Close")
	}
}
