// Package parser turns raw log lines into normalized ingest events.
package parser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
)

// Common errors returned by parsers.
var (
	ErrInvalidFormat = errors.New("invalid log format")
	ErrEmptyLine     = errors.New("empty line")
	// ErrIgnored is returned for well-formed lines that carry no security event.
	ErrIgnored = errors.New("line carries no event")
)

// Parser is the interface all line parsers implement.
type Parser interface {
	// Parse parses a single line. It returns ErrInvalidFormat when the line
	// does not match the format and ErrIgnored when it matches but is not
	// an event of interest.
	Parse(line string) (*ingest.Event, error)

	// Name returns the name sources use to select the parser.
	Name() string

	// CanParse reports whether the line looks like this parser's format.
	CanParse(line string) bool
}

// Options configures a parser instance.
type Options struct {
	// Location is used for timestamps that carry no zone. Defaults to
	// time.Local.
	Location *time.Location
	// Now is used to infer the year of syslog timestamps.
	Now func() time.Time
	// Metadata is added to every event. Keys already set by the parser win.
	Metadata map[string]string
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Location == nil {
		out.Location = time.Local
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

// base carries the options shared by all parsers.
type base struct {
	opts *Options
}

func newBase(opts *Options) base {
	return base{opts: opts.withDefaults()}
}

// applyMetadata copies the configured metadata into the event.
func (b base) applyMetadata(e *ingest.Event) {
	if len(b.opts.Metadata) == 0 {
		return
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, len(b.opts.Metadata))
	}
	for k, v := range b.opts.Metadata {
		if _, ok := e.Metadata[k]; !ok {
			e.Metadata[k] = v
		}
	}
}

// Factory creates a parser with the given options.
type Factory func(opts *Options) Parser

// Registry maps parser names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// New creates the parser registered under name.
func (r *Registry) New(name string, opts *Options) (Parser, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown parser type %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(opts), nil
}

// AutoDetect returns the first parser, in name order, that can parse line.
func (r *Registry) AutoDetect(line string, opts *Options) (Parser, bool) {
	for _, name := range r.Names() {
		p, err := r.New(name, opts)
		if err == nil && p.CanParse(line) {
			return p, true
		}
	}
	return nil, false
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in parsers.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register("auth", func(opts *Options) Parser { return NewAuthParser(opts) })
	DefaultRegistry.Register("json", func(opts *Options) Parser { return NewJSONParser(opts) })
}

// New creates a parser from the default registry.
func New(name string, opts *Options) (Parser, error) {
	return DefaultRegistry.New(name, opts)
}
