// Package render evaluates implementation templates against a resolved
// context. Templates use {{ expr }} substitution with block actions for
// loops and conditionals. Rendering is a pure function of the template text
// and the context; errors are classified so callers can tell a malformed
// template from a missing variable from a failed operation.
package render

import (
	"bytes"
	"regexp"
	"strings"
	"text/template"
)

var (
	missingKeyRe = regexp.MustCompile(`no entry for key "([^"]+)"`)
	badFieldRe   = regexp.MustCompile(`can't evaluate field (\S+)`)
	nilRefRe     = regexp.MustCompile(`nil pointer evaluating (\S+)`)
)

// Artifact is the product of a successful render.
type Artifact struct {
	Content string
}

// Renderer renders template text against a context mapping.
type Renderer struct {
	funcs template.FuncMap
}

func NewRenderer() *Renderer {
	return &Renderer{funcs: builtinFuncs()}
}

// Render substitutes context values into templateText. Missing references are
// an error, never a silent empty substitution.
func (r *Renderer) Render(templateText string, context map[string]any) (*Artifact, error) {
	// Fast path: a template with no actions renders to itself.
	if !strings.Contains(templateText, "{{") && !strings.Contains(templateText, "}}") {
		return &Artifact{Content: templateText}, nil
	}

	if open, close := strings.Count(templateText, "{{"), strings.Count(templateText, "}}"); open != close {
		return nil, &SyntaxError{Detail: "unbalanced template delimiters"}
	}

	t, err := template.New("artifact").Funcs(r.funcs).Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, &SyntaxError{Detail: trimTemplatePrefix(err.Error())}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, context); err != nil {
		return nil, classifyExecError(err)
	}
	return &Artifact{Content: buf.String()}, nil
}

// classifyExecError separates missing-reference failures from everything else
// that can go wrong while executing a parsed template.
func classifyExecError(err error) error {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{missingKeyRe, badFieldRe, nilRefRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			return &UndefinedReferenceError{Path: strings.TrimPrefix(m[1], ".")}
		}
	}
	return &RuntimeError{Detail: trimTemplatePrefix(msg)}
}

// trimTemplatePrefix drops the "template: artifact:1:2:" noise the stdlib
// prepends, keeping the part an operator can act on.
func trimTemplatePrefix(msg string) string {
	if !strings.HasPrefix(msg, "template:") {
		return msg
	}
	if i := strings.Index(msg, "executing"); i >= 0 {
		return msg[i:]
	}
	parts := strings.SplitN(msg, ": ", 3)
	return parts[len(parts)-1]
}

// builtinFuncs are the helpers available inside templates. Comparisons use
// the engine's native typed operators; no implicit coercion is added here.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"contains": func(s, substr string) bool {
			return strings.Contains(s, substr)
		},
		"hasPrefix": func(s, prefix string) bool {
			return strings.HasPrefix(s, prefix)
		},
		"hasSuffix": func(s, suffix string) bool {
			return strings.HasSuffix(s, suffix)
		},
		"join": func(sep string, items []any) string {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, sep)
		},
		"default": func(def, val any) any {
			if val == nil || val == "" {
				return def
			}
			return val
		},
	}
}
