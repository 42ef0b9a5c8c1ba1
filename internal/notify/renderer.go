package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templateNames = []string{"status_change", "resolved"}

// Renderer renders status change events from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"label":         label,
		"formatTime":    formatTime,
		"severityEmoji": severityEmoji,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, name := range templateNames {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

type eventView struct {
	Number     string
	Title      string
	Type       string
	Severity   string
	From       string
	To         string
	Resolution string
	Actor      string
	At         time.Time
}

// Render returns subject and body for the event.
func (r *Renderer) Render(event domain.StatusChangeEvent) (subject, body string, err error) {
	view := eventView{
		Number:   event.IncidentNumber,
		Title:    event.Title,
		Type:     string(event.Type),
		Severity: string(event.Severity),
		From:     string(event.FromStatus),
		To:       string(event.ToStatus),
		Actor:    event.Actor,
		At:       event.OccurredAt,
	}
	if event.ResolutionCode != nil {
		view.Resolution = string(*event.ResolutionCode)
	}

	name := "status_change"
	if event.ToStatus == domain.IncidentStatusResolved || event.ToStatus == domain.IncidentStatusClosed {
		name = "resolved"
	}
	tmpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return renderSubject(view), strings.TrimSpace(buf.String()), nil
}

func renderSubject(v eventView) string {
	var prefix string
	switch v.To {
	case string(domain.IncidentStatusResolved):
		prefix = "Resolved"
	case string(domain.IncidentStatusClosed):
		prefix = "Closed"
	default:
		prefix = label(v.Severity)
	}
	return fmt.Sprintf("[%s] %s %s: %s", prefix, v.Number, v.Title, label(v.To))
}

// Template functions

// label turns an enum value such as "p1_critical" into "P1 Critical".
// A Caser is stateful, so each call gets its own.
func label(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func severityEmoji(severity string) string {
	switch domain.Severity(severity) {
	case domain.SeverityP1Critical:
		return "🔴"
	case domain.SeverityP2High:
		return "🟠"
	case domain.SeverityP3Medium:
		return "🟡"
	default:
		return "⚪"
	}
}
