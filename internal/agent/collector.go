package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/parser"
	"github.com/good-yellow-bee/siemlite/internal/tailer"
)

// SourceConfig is one file the agent follows.
type SourceConfig struct {
	Name string
	// Type selects the parser ("auth", "json").
	Type string
	Path string
	// FromStart reads the content already in the file on first start.
	FromStart bool
}

// Collector tails one source and parses its lines into events.
type Collector struct {
	source SourceConfig
	tailer *tailer.Tailer
	parser parser.Parser
	logger *zap.SugaredLogger

	events chan *ingest.Event
}

// NewCollector creates a collector. labels are attached to every event as
// metadata along with the source name.
func NewCollector(source SourceConfig, labels map[string]string, follow bool, logger *zap.SugaredLogger) (*Collector, error) {
	md := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		md[k] = v
	}
	md["source"] = source.Name

	p, err := parser.New(source.Type, &parser.Options{Metadata: md})
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}

	opts := tailer.DefaultOptions()
	opts.Follow = follow
	opts.FromEnd = !source.FromStart
	opts.MustExist = !follow
	t, err := tailer.NewTailer(source.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}

	return &Collector{
		source: source,
		tailer: t,
		parser: p,
		logger: logger.With("source", source.Name),
		events: make(chan *ingest.Event, 256),
	}, nil
}

// Start begins collecting. Events are closed when ctx is done or, without
// follow, when the file is read to the end.
func (c *Collector) Start(ctx context.Context) error {
	if err := c.tailer.Start(ctx); err != nil {
		c.tailer.Stop()
		return err
	}
	go c.collect(ctx)
	return nil
}

// Events returns the parsed events.
func (c *Collector) Events() <-chan *ingest.Event {
	return c.events
}

// Stop stops the underlying tailer.
func (c *Collector) Stop() {
	c.tailer.Stop()
}

func (c *Collector) collect(ctx context.Context) {
	defer close(c.events)
	defer c.tailer.Stop()

	var skipped int
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-c.tailer.Lines():
			if !ok {
				if skipped > 0 {
					c.logger.Debugw("unparsed lines skipped", "count", skipped)
				}
				return
			}
			if line.Err != nil {
				c.logger.Warnw("tail error", "path", line.Path, "error", line.Err)
				continue
			}

			event, err := c.parser.Parse(line.Text)
			switch {
			case errors.Is(err, parser.ErrIgnored), errors.Is(err, parser.ErrEmptyLine):
				continue
			case err != nil:
				skipped++
				continue
			}

			select {
			case c.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
