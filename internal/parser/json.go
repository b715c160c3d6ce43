package parser

import (
	"encoding/json"
	"strings"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
)

// JSONParser reads one ingest event per line, in the same shape as the HTTP
// ingest body. It suits applications that already emit normalized events.
type JSONParser struct {
	base
}

// NewJSONParser creates a JSON lines parser.
func NewJSONParser(opts *Options) *JSONParser {
	return &JSONParser{base: newBase(opts)}
}

// Name returns "json".
func (p *JSONParser) Name() string {
	return "json"
}

// CanParse reports whether the line is a JSON object.
func (p *JSONParser) CanParse(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "{") && json.Valid([]byte(line))
}

// Parse decodes one event. RawMessage defaults to the line itself.
func (p *JSONParser) Parse(line string) (*ingest.Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}
	var event ingest.Event
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return nil, ErrInvalidFormat
	}
	if event.EventType == "" {
		return nil, ErrIgnored
	}
	if event.RawMessage == "" {
		event.RawMessage = line
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.opts.Now().UTC()
	}
	p.applyMetadata(&event)
	return &event, nil
}
