// Package templating renders rule templates with {{identifier}} placeholders.
//
// Rendering is total: malformed placeholders are copied through verbatim and
// reported as warnings so that delivery is never blocked by a bad template.
package templating

import (
	"strings"
	"time"

	"notifyengine/internal/model"
)

const (
	VarCurrentDate = "system.currentDate"
	VarAppName     = "system.appName"

	systemPrefix = "system."
)

// Warning reasons.
const (
	ReasonUnresolved = "unresolved"
	ReasonUnclosed   = "unclosed"
	ReasonInvalid    = "invalid_identifier"
)

type Engine struct {
	appName string
	loc     *time.Location
	now     func() time.Time
}

// NewEngine creates an engine; a nil loc means UTC.
func NewEngine(appName string, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{appName: appName, loc: loc, now: time.Now}
}

// WithClock replaces the time source for system.currentDate.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Render renders every field of t. Caller variables in the system namespace
// are ignored.
func (e *Engine) Render(t model.Template, vars map[string]string) model.RenderedContent {
	merged := e.variables(vars)

	var out model.RenderedContent
	var w []model.TemplateWarning
	out.Title, w = renderField("title", t.Title, merged, w)
	out.Body, w = renderField("body", t.Body, merged, w)
	out.ActionURL, w = renderField("action_url", t.ActionURL, merged, w)
	out.ActionText, w = renderField("action_text", t.ActionText, merged, w)
	out.Warnings = w
	return out
}

// RenderString renders a single template string.
func (e *Engine) RenderString(s string, vars map[string]string) (string, []model.TemplateWarning) {
	return renderField("", s, e.variables(vars), nil)
}

func (e *Engine) variables(vars map[string]string) map[string]string {
	merged := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		if strings.HasPrefix(k, systemPrefix) {
			continue
		}
		merged[k] = v
	}
	merged[VarCurrentDate] = e.now().In(e.loc).Format("2006-01-02")
	merged[VarAppName] = e.appName
	return merged
}

func renderField(field, s string, vars map[string]string, warnings []model.TemplateWarning) (string, []model.TemplateWarning) {
	if !strings.Contains(s, "{{") {
		return s, warnings
	}

	var b strings.Builder
	b.Grow(len(s))

	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:open])
		rest := s[open+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			warnings = append(warnings, model.TemplateWarning{Field: field, Placeholder: s[open:], Reason: ReasonUnclosed})
			b.WriteString(s[open:])
			break
		}

		name := strings.TrimSpace(rest[:end])
		if !validIdentifier(name) {
			// Emit the braces and rescan after them so a later well-formed
			// placeholder ("{{ {{name}}") still resolves.
			warnings = append(warnings, model.TemplateWarning{Field: field, Placeholder: s[open : open+2+end+2], Reason: ReasonInvalid})
			b.WriteString("{{")
			s = rest
			continue
		}

		if v, ok := vars[name]; ok {
			b.WriteString(v)
		} else {
			warnings = append(warnings, model.TemplateWarning{Field: field, Placeholder: name, Reason: ReasonUnresolved})
		}
		s = rest[end+2:]
	}

	return b.String(), warnings
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}
