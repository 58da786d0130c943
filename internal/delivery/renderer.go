package delivery

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/bissquit/incident-alerts/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders alert subjects and bodies from templates.
type Renderer struct {
	templates map[domain.ChannelType]*template.Template
}

// Attribute is one incident attribute in rendered output.
type Attribute struct {
	Name  string
	Value string
}

// AlertPayload is the template input.
type AlertPayload struct {
	IncidentID           string
	Revision             int64
	ProcessDefinitionKey string
	ErrorType            string
	ErrorMessage         string
	Attributes           []Attribute
	RuleID               string
	Filters              []domain.Filter
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title": titleCase,
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	r := &Renderer{templates: make(map[domain.ChannelType]*template.Template)}

	for _, channel := range []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeWebhook} {
		filename := fmt.Sprintf("templates/%s_alert.tmpl", channel)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(channel)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", filename, err)
		}

		r.templates[channel] = tmpl
	}

	return r, nil
}

// Render returns subject and body of the alert for its channel type.
func (r *Renderer) Render(incident domain.Incident, rule domain.Rule) (subject, body string, err error) {
	payload := NewAlertPayload(incident, rule)
	subject = renderSubject(payload)

	tmpl, ok := r.templates[rule.Channel.Type]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", rule.Channel.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", rule.Channel.Type, err)
	}

	return subject, strings.TrimSpace(buf.String()), nil
}

// NewAlertPayload flattens an incident and rule into template input.
func NewAlertPayload(incident domain.Incident, rule domain.Rule) AlertPayload {
	p := AlertPayload{
		IncidentID: incident.ID,
		Revision:   incident.Revision,
		RuleID:     rule.ID,
		Filters:    rule.Filters,
	}
	p.ProcessDefinitionKey, _ = incident.Attribute(domain.AttrProcessDefinitionKey)
	p.ErrorType, _ = incident.Attribute(domain.AttrErrorType)
	p.ErrorMessage, _ = incident.Attribute(domain.AttrErrorMessage)

	names := make([]string, 0, len(incident.Attributes))
	for name := range incident.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v, ok := incident.Attribute(name); ok {
			p.Attributes = append(p.Attributes, Attribute{Name: name, Value: v})
		}
	}
	return p
}

func renderSubject(p AlertPayload) string {
	what := "Incident"
	if p.ErrorType != "" {
		what = titleCase(strings.ReplaceAll(p.ErrorType, "_", " "))
	}
	if p.ProcessDefinitionKey != "" {
		return fmt.Sprintf("[Alert] %s in process %s", what, p.ProcessDefinitionKey)
	}
	return fmt.Sprintf("[Alert] %s %s", what, p.IncidentID)
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(strings.ToLower(s))
}
