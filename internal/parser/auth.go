package parser

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/models"
)

// syslogTimeFormat is the BSD syslog timestamp, which carries no year.
const syslogTimeFormat = "Jan _2 15:04:05"

// AuthParser parses syslog authentication logs (auth.log, secure) written by
// sshd, sudo and PAM.
//
//	Jan  2 15:04:05 web-01 sshd[1234]: Failed password for root from 203.0.113.7 port 52144 ssh2
//	2024-01-02T15:04:05.123456+00:00 web-01 sudo:    alice : TTY=pts/0 ; PWD=/home/alice ; USER=root ; COMMAND=/bin/ls
type AuthParser struct {
	base
	header   *regexp.Regexp
	failed   *regexp.Regexp
	accepted *regexp.Regexp
	sudo     *regexp.Regexp
	pam      *regexp.Regexp
}

// NewAuthParser creates an auth log parser.
func NewAuthParser(opts *Options) *AuthParser {
	return &AuthParser{
		base: newBase(opts),
		// timestamp host program[pid]: message
		header:   regexp.MustCompile(`^(?:([A-Z][a-z]{2}\s+\d{1,2} \d{2}:\d{2}:\d{2})|(\d{4}-\d{2}-\d{2}T\S+))\s+(\S+)\s+([\w.\-/]+)(?:\[(\d+)\])?:\s*(.*)$`),
		failed:   regexp.MustCompile(`^Failed (\S+) for (invalid user )?(\S*) from (\S+) port (\d+)`),
		accepted: regexp.MustCompile(`^Accepted (\S+) for (\S+) from (\S+) port (\d+)`),
		sudo:     regexp.MustCompile(`^(\S+) : (?:(.*?) ; )?TTY=(\S+) ; PWD=(.*?) ; USER=(\S+) ;(?: .*? ;)* COMMAND=(.*)$`),
		pam:      regexp.MustCompile(`^pam_unix\(([^)]+)\): authentication failure;(.*)$`),
	}
}

// Name returns "auth".
func (p *AuthParser) Name() string {
	return "auth"
}

// CanParse reports whether the line has a syslog header from an auth program.
func (p *AuthParser) CanParse(line string) bool {
	m := p.header.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	switch m[4] {
	case "sshd", "sudo", "login", "su":
		return true
	}
	return strings.HasPrefix(m[6], "pam_unix(")
}

// Parse parses one auth log line.
func (p *AuthParser) Parse(line string) (*ingest.Event, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, ErrEmptyLine
	}

	m := p.header.FindStringSubmatch(line)
	if m == nil {
		return nil, ErrInvalidFormat
	}
	ts, err := p.timestamp(m[1], m[2])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	host, program, pid, msg := m[3], m[4], m[5], m[6]

	var event *ingest.Event
	switch {
	case program == "sshd":
		event = p.parseSSHD(msg)
	case program == "sudo":
		event = p.parseSudo(msg)
	}
	if event == nil && strings.HasPrefix(msg, "pam_unix(") {
		event = p.parsePAM(msg)
	}
	if event == nil {
		return nil, ErrIgnored
	}

	event.Timestamp = ts
	event.RawMessage = line
	event.Metadata["hostname"] = host
	event.Metadata["program"] = program
	if pid != "" {
		event.Metadata["pid"] = pid
	}
	p.applyMetadata(event)
	return event, nil
}

func (p *AuthParser) timestamp(syslog, rfc3339 string) (time.Time, error) {
	if rfc3339 != "" {
		return time.Parse(time.RFC3339Nano, rfc3339)
	}
	now := p.opts.Now().In(p.opts.Location)
	ts, err := time.ParseInLocation(syslogTimeFormat, strings.Join(strings.Fields(syslog), " "), p.opts.Location)
	if err != nil {
		return time.Time{}, err
	}
	ts = ts.AddDate(now.Year(), 0, 0)
	// A December line read in early January belongs to the previous year.
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts, nil
}

func (p *AuthParser) parseSSHD(msg string) *ingest.Event {
	if m := p.failed.FindStringSubmatch(msg); m != nil {
		e := newEvent(models.EventTypeSSHFailedLogin, m[3], m[4])
		e.Metadata["auth_method"] = m[1]
		e.Metadata["port"] = atoiOr(m[5])
		if m[2] != "" {
			e.Metadata["invalid_user"] = true
		}
		return e
	}
	if m := p.accepted.FindStringSubmatch(msg); m != nil {
		e := newEvent(models.EventTypeSSHSuccessLogin, m[2], m[3])
		e.Metadata["auth_method"] = m[1]
		e.Metadata["port"] = atoiOr(m[4])
		return e
	}
	// "Invalid user" lines precede a Failed line for the same attempt and
	// are not counted twice.
	return nil
}

func (p *AuthParser) parseSudo(msg string) *ingest.Event {
	m := p.sudo.FindStringSubmatch(strings.TrimSpace(msg))
	if m == nil {
		return nil
	}
	eventType := models.EventTypeSudoCommand
	if strings.Contains(m[2], "incorrect password attempt") || strings.Contains(m[2], "authentication failure") {
		eventType = models.EventTypeAuthFailure
	}
	e := newEvent(eventType, m[1], "")
	e.Metadata["tty"] = m[3]
	e.Metadata["pwd"] = m[4]
	e.Metadata["target_user"] = m[5]
	e.Metadata["command"] = m[6]
	if m[2] != "" {
		e.Metadata["reason"] = m[2]
	}
	return e
}

func (p *AuthParser) parsePAM(msg string) *ingest.Event {
	m := p.pam.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	fields := keyValues(m[2])
	e := newEvent(models.EventTypeAuthFailure, fields["user"], fields["rhost"])
	e.Metadata["service"] = m[1]
	if ruser := fields["ruser"]; ruser != "" {
		e.Metadata["remote_user"] = ruser
	}
	if tty := fields["tty"]; tty != "" {
		e.Metadata["tty"] = tty
	}
	return e
}

// newEvent creates an event with metadata initialized. A host that is not
// an IP address is kept as metadata only.
func newEvent(eventType, username, host string) *ingest.Event {
	e := &ingest.Event{
		EventType: eventType,
		Username:  username,
		Metadata:  make(map[string]any),
	}
	if host != "" {
		if net.ParseIP(host) != nil {
			e.SourceIP = host
		} else {
			e.Metadata["remote_host"] = host
		}
	}
	return e
}

// keyValues splits "a=1 b= c=3" into a map, skipping empty values.
func keyValues(s string) map[string]string {
	out := make(map[string]string)
	for _, field := range strings.Fields(s) {
		k, v, ok := strings.Cut(field, "=")
		if ok && v != "" {
			out[k] = v
		}
	}
	return out
}

func atoiOr(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
