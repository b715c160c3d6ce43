// Package agent collects authentication events on a machine and ships them
// to the SIEM-Lite server over gRPC, spooling to disk while the server is
// unreachable.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/agent/buffer"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/server"
)

// ErrUnauthenticated is returned by Run when the server rejects the
// machine's credentials. The machine must be re-registered or reactivated.
var ErrUnauthenticated = errors.New("server rejected machine credentials")

// Config contains agent settings.
type Config struct {
	Sources []SourceConfig
	// Labels are attached to every event as metadata.
	Labels        map[string]string
	BatchSize     int
	FlushInterval time.Duration
	// Once reads the sources to their current end, delivers what was read
	// and returns.
	Once             bool
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

// Stats are counters since the agent started.
type Stats struct {
	Collected uint64
	Delivered uint64
	Rejected  uint64
	Spooled   uint64
	Alerts    uint64
}

// Agent runs collectors and delivers their events in batches.
type Agent struct {
	cfg     Config
	sender  Sender
	buffer  buffer.Buffer
	logger  *zap.SugaredLogger
	backoff *Backoff

	// retryAt holds delivery back after a failure.
	retryAt time.Time

	collected atomic.Uint64
	delivered atomic.Uint64
	rejected  atomic.Uint64
	spooled   atomic.Uint64
	alerts    atomic.Uint64
}

// New creates an agent.
func New(cfg Config, sender Sender, buf buffer.Buffer, logger *zap.SugaredLogger) (*Agent, error) {
	if len(cfg.Sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	if sender == nil || buf == nil {
		return nil, errors.New("sender and buffer are required")
	}
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:     cfg,
		sender:  sender,
		buffer:  buf,
		logger:  logger,
		backoff: NewBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
	}, nil
}

// Stats returns the current counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Collected: a.collected.Load(),
		Delivered: a.delivered.Load(),
		Rejected:  a.rejected.Load(),
		Spooled:   a.spooled.Load(),
		Alerts:    a.alerts.Load(),
	}
}

// Run collects and delivers until ctx is done. Undelivered events are
// spooled so that the next run sends them.
func (a *Agent) Run(ctx context.Context) error {
	if n := a.buffer.Len(); n > 0 {
		a.logger.Infow("spooled events from previous run", "count", n)
	}

	events, err := a.startCollectors(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*structpb.Struct, 0, a.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			a.spool(batch)
			return nil

		case ev, ok := <-events:
			if !ok {
				if err := a.deliver(ctx, batch); err != nil {
					return err
				}
				return a.drain(ctx)
			}
			msg, err := server.EventToStruct(ev)
			if err != nil {
				a.logger.Warnw("event dropped", "event_type", ev.EventType, "error", err)
				continue
			}
			a.collected.Add(1)
			batch = append(batch, msg)
			if len(batch) >= a.cfg.BatchSize {
				if err := a.deliver(ctx, batch); err != nil {
					return err
				}
				batch = make([]*structpb.Struct, 0, a.cfg.BatchSize)
			}

		case <-ticker.C:
			if err := a.deliver(ctx, batch); err != nil {
				return err
			}
			batch = make([]*structpb.Struct, 0, a.cfg.BatchSize)
		}
	}
}

// startCollectors starts every source and merges their events. The merged
// channel closes once all collectors are done.
func (a *Agent) startCollectors(ctx context.Context) (<-chan *ingest.Event, error) {
	collectors := make([]*Collector, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		c, err := NewCollector(src, a.cfg.Labels, !a.cfg.Once, a.logger)
		if err == nil {
			err = c.Start(ctx)
		}
		if err != nil {
			for _, started := range collectors {
				started.Stop()
			}
			return nil, err
		}
		collectors = append(collectors, c)
		a.logger.Infow("collecting", "source", src.Name, "type", src.Type, "path", src.Path)
	}

	merged := make(chan *ingest.Event, a.cfg.BatchSize)
	var wg sync.WaitGroup
	for _, c := range collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range c.Events() {
				select {
				case merged <- ev:
				case <-ctx.Done():
					c.Stop()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	return merged, nil
}

// deliver sends spooled events and then batch. While a retry delay is
// pending, batch goes straight to the spool.
func (a *Agent) deliver(ctx context.Context, batch []*structpb.Struct) error {
	if time.Now().Before(a.retryAt) {
		a.spool(batch)
		return nil
	}

	ok, err := a.replay(ctx)
	if err != nil {
		a.spool(batch)
		return err
	}
	if !ok {
		a.spool(batch)
		return nil
	}
	if len(batch) == 0 {
		return nil
	}

	retry, err := a.send(ctx, batch)
	a.spool(retry)
	if err != nil {
		return err
	}
	if len(retry) > 0 {
		a.failed()
	}
	return nil
}

// replay sends spooled events until the spool is empty. It reports false
// when delivery failed and the remainder stays spooled. Spooled events may
// be sent after newer ones; windows are counted by event timestamp, so
// order does not matter to the server.
func (a *Agent) replay(ctx context.Context) (bool, error) {
	for a.buffer.Len() > 0 {
		events, err := a.buffer.Read(a.cfg.BatchSize)
		if err != nil {
			a.logger.Errorw("read spool", "error", err)
			a.failed()
			return false, nil
		}
		if len(events) == 0 {
			break
		}
		retry, err := a.send(ctx, events)
		a.spool(retry)
		if err != nil {
			return false, err
		}
		if len(retry) > 0 {
			a.failed()
			return false, nil
		}
		a.logger.Debugw("replayed spooled events", "count", len(events))
	}
	a.backoff.Reset()
	a.retryAt = time.Time{}
	return true, nil
}

// drain delivers the spool after the sources are exhausted, waiting out
// failures until ctx is done.
func (a *Agent) drain(ctx context.Context) error {
	for {
		if wait := time.Until(a.retryAt); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
		ok, err := a.replay(ctx)
		if err != nil || ok {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// send delivers events and returns the ones worth retrying. Events the
// server stored, even when evaluation failed, and events it rejected as
// invalid are not retried. A credentials rejection stops the agent.
func (a *Agent) send(ctx context.Context, events []*structpb.Struct) ([]*structpb.Struct, error) {
	acks, err := a.sender.Send(ctx, events)

	answered := make([]bool, len(events))
	var retry []*structpb.Struct
	for _, ack := range acks {
		if ack.Index < 0 || ack.Index >= len(events) || answered[ack.Index] {
			continue
		}
		answered[ack.Index] = true
		switch {
		case ack.Code == codes.OK:
			a.delivered.Add(1)
			a.alerts.Add(uint64(ack.Alerts))
		case ack.Stored():
			a.delivered.Add(1)
			a.logger.Warnw("event stored but not evaluated", "event_id", ack.ID, "error", ack.Error)
		case ack.Code == codes.InvalidArgument:
			a.rejected.Add(1)
			a.logger.Warnw("event rejected", "error", ack.Error)
		default:
			retry = append(retry, events[ack.Index])
		}
	}
	for i, ok := range answered {
		if !ok {
			retry = append(retry, events[i])
		}
	}

	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return retry, fmt.Errorf("%w: %v", ErrUnauthenticated, status.Convert(err).Message())
		}
		if ctx.Err() == nil {
			a.logger.Warnw("delivery failed", "error", err, "pending", len(retry))
		}
	}
	return retry, nil
}

// failed schedules the next delivery attempt.
func (a *Agent) failed() {
	delay := a.backoff.Next()
	a.retryAt = time.Now().Add(delay)
	a.logger.Infow("delivery paused", "retry_in", delay.Round(time.Millisecond), "spooled", a.buffer.Len())
}

func (a *Agent) spool(events []*structpb.Struct) {
	if len(events) == 0 {
		return
	}
	if err := a.buffer.Write(events); err != nil {
		a.logger.Errorw("spool events", "count", len(events), "error", err)
		return
	}
	a.spooled.Add(uint64(len(events)))
}
