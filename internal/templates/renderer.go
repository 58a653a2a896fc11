// Package templates renders stored email templates and keeps the template
// catalog in sync with an optional YAML file.
package templates

import (
	"html"
	"regexp"
	"strings"

	"github.com/ahmetk3436/herald/internal/models"
	"github.com/ahmetk3436/herald/internal/variables"
)

// Canonical placeholders every alert template is expected to reference.
const (
	TitleVar   = "title"
	ContentVar = "content"
)

// {{{name}}} is raw, {{name}} is escaped.
var placeholderRe = regexp.MustCompile(`\{\{\{\s*([\w.\-]+)\s*\}\}\}|\{\{\s*([\w.\-]+)\s*\}\}`)

type Message struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type Renderer struct {
	format func(any) string
}

// NewRenderer uses m to turn variable values into text.
func NewRenderer(m *variables.Mapper) *Renderer {
	return &Renderer{format: m.Stringify}
}

// Render substitutes vars into tpl. Missing variables render as "".
// In the body {{name}} is HTML-escaped and {{{name}}} is inserted verbatim;
// the subject is plain text so neither form is escaped there.
func (r *Renderer) Render(tpl *models.EmailTemplate, vars variables.Variables) Message {
	subject := r.substitute(tpl.Subject, vars, false)
	subject = strings.Join(strings.Fields(subject), " ")
	return Message{
		Subject: subject,
		HTML:    r.substitute(tpl.Content, vars, true),
	}
}

func (r *Renderer) substitute(text string, vars variables.Variables, escape bool) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		raw := groups[1] != ""
		name := groups[1]
		if !raw {
			name = groups[2]
		}
		v, ok := vars[name]
		if !ok {
			return ""
		}
		s := r.format(v)
		if escape && !raw {
			return html.EscapeString(s)
		}
		return s
	})
}

// Placeholders lists the distinct variable names referenced by tpl.
func Placeholders(tpl *models.EmailTemplate) []string {
	seen := map[string]bool{}
	var out []string
	for _, text := range []string{tpl.Subject, tpl.Content} {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
