package notifier

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/good-yellow-bee/siemlite/internal/models"
)

const plainTemplate = `SIEM-Lite Alert: {{.Title}}
{{- if .Escalated}}
*** ESCALATED ***
{{- end}}

Rule: {{.RuleName}}
Machine: {{.MachineName}}
Severity: {{.Severity}}
Status: {{.Status}}
Occurrences: {{.Occurrences}}
First seen: {{.FirstSeen}}
Last seen: {{.LastSeen}}
{{- if .SourceIP}}
Source IP: {{.SourceIP}}
{{- end}}
{{- if .Description}}

Description:
{{.Description}}
{{- end}}
{{- if .Metadata}}

Metadata:
{{- range .Metadata}}
- {{.Key}}: {{.Value}}
{{- end}}
{{- end}}
`

const htmlTemplate = `<html><body style="font-family: sans-serif">
<h2 style="color: {{.SeverityColor}}">SIEM-Lite Alert: {{.Title}}</h2>
{{if .Escalated}}<p><strong>ESCALATED</strong></p>{{end}}
<table cellpadding="4">
<tr><td><b>Rule</b></td><td>{{.RuleName}}</td></tr>
<tr><td><b>Machine</b></td><td>{{.MachineName}}</td></tr>
<tr><td><b>Severity</b></td><td>{{.Severity}}</td></tr>
<tr><td><b>Status</b></td><td>{{.Status}}</td></tr>
<tr><td><b>Occurrences</b></td><td>{{.Occurrences}}</td></tr>
<tr><td><b>First seen</b></td><td>{{.FirstSeen}}</td></tr>
<tr><td><b>Last seen</b></td><td>{{.LastSeen}}</td></tr>
{{if .SourceIP}}<tr><td><b>Source IP</b></td><td>{{.SourceIP}}</td></tr>{{end}}
</table>
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{if .Metadata}}<ul>{{range .Metadata}}<li><code>{{.Key}}</code>: {{.Value}}</li>{{end}}</ul>{{end}}
</body></html>
`

// Templates holds parsed notification templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	Title         string
	RuleName      string
	MachineName   string
	Severity      string
	SeverityColor string
	Status        string
	Occurrences   int
	FirstSeen     string
	LastSeen      string
	SourceIP      string
	Description   string
	Escalated     bool
	Metadata      []MetadataItem
}

// MetadataItem is one rendered metadata line.
type MetadataItem struct {
	Key   string
	Value string
}

// LoadTemplates parses the built-in templates.
func LoadTemplates() *Templates {
	return &Templates{
		html:  htmltemplate.Must(htmltemplate.New("alert.html").Parse(htmlTemplate)),
		plain: template.Must(template.New("alert.txt").Parse(plainTemplate)),
	}
}

// Render builds the message for alert.
func (t *Templates) Render(alert *models.Alert, reason models.NotifyReason) (*Message, error) {
	data := AlertToTemplateData(alert)

	var plain, html bytes.Buffer
	if err := t.plain.Execute(&plain, data); err != nil {
		return nil, fmt.Errorf("render plain template: %w", err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html template: %w", err)
	}

	return &Message{
		Subject: Subject(alert, reason),
		Text:    plain.String(),
		HTML:    html.String(),
		Reason:  reason,
		Alert:   alert,
	}, nil
}

// Subject returns the short notification subject line.
func Subject(alert *models.Alert, reason models.NotifyReason) string {
	prefix := "[SIEM-Lite]"
	if reason == models.NotifyReasonEscalated {
		prefix += " ESCALATED"
	}
	return fmt.Sprintf("%s %s alert on %s", prefix, strings.ToUpper(string(alert.Severity)), machineLabel(alert))
}

// AlertToTemplateData converts an alert to template data.
func AlertToTemplateData(alert *models.Alert) TemplateData {
	data := TemplateData{
		Title:         alert.Title,
		RuleName:      alert.RuleName,
		MachineName:   machineLabel(alert),
		Severity:      strings.ToUpper(string(alert.Severity)),
		SeverityColor: severityColor(alert.Severity),
		Status:        string(alert.Status),
		Occurrences:   alert.Occurrences,
		FirstSeen:     alert.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:      alert.LastSeen.UTC().Format(time.RFC3339),
		SourceIP:      alert.SourceIP,
		Description:   alert.Description,
		Escalated:     alert.IsEscalated,
	}
	if data.RuleName == "" {
		data.RuleName = alert.RuleID
	}
	for _, k := range alert.Metadata.Keys() {
		data.Metadata = append(data.Metadata, MetadataItem{Key: k, Value: fmt.Sprint(alert.Metadata[k])})
	}
	return data
}

func machineLabel(alert *models.Alert) string {
	if alert.MachineName != "" {
		return alert.MachineName
	}
	return alert.MachineID
}

// severityColor returns a hex color for the severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#dc3545"
	case models.SeverityHigh:
		return "#fd7e14"
	case models.SeverityMedium:
		return "#ffc107"
	case models.SeverityLow:
		return "#28a745"
	default:
		return "#6c757d"
	}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
