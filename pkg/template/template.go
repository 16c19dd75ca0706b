package template

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template is a compiled body template. It is safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

// Compile parses src as a body template. The name is used in error messages.
func Compile(name, src string) (*Template, error) {
	t, err := template.New(name).Funcs(FuncMap()).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return &Template{name: name, tmpl: t}, nil
}

// Render executes the template against ctx.
func (t *Template) Render(ctx *Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("render template %s: %w", t.name, err)
	}
	return buf.Bytes(), nil
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}
