package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Incident {{.EventLabel}}]
Incident: {{.IncidentID}}
Alert: {{.AlertType}}
Severity: {{.Severity}}
Room: {{.Room}}
Patient: {{.PatientID}}
Current Status: {{.Status}}
Assigned To: {{.Assignee}}
Created: {{.CreatedAt}}
{{ if .Note }}
Note: {{.Note}}
{{ end }}`

// TemplateData provides fields for rendering page content.
type TemplateData struct {
	IncidentID string
	AlertType  string
	Severity   string
	Room       string
	PatientID  string
	Status     string
	Assignee   string
	CreatedAt  string
	Note       string
	Event      string
	EventLabel string
}

// Template renders page content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a page template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("incident-page").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("incident template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
