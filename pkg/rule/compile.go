package rule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/http/httpguts"

	"github.com/getmockd/mockproxy/internal/matching"
	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/template"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// compiler accumulates errors for one definition.
type compiler struct {
	def  Definition
	name string
	opts Options
	errs ValidationErrors
}

func (c *compiler) fail(field, facet string, sentinel error, format string, args ...any) {
	c.errs = append(c.errs, &ValidationError{
		RuleID:  c.name,
		Field:   field,
		Facet:   facet,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	})
}

// compile builds a rule from a normalized definition. It returns nil when
// any error was recorded.
func (c *compiler) compile(index int) *Rule {
	c.structErrors()

	matchers := make([]matching.Matcher, 0, len(c.def.Facets))
	for i, f := range c.def.Facets {
		if m := c.constraint(i, f); m != nil {
			matchers = append(matchers, m)
		}
	}
	if len(c.def.Facets) == 0 {
		c.fail("facets", "", ErrInvalidDefinition, "at least one facet constraint is required")
	}

	outcome := c.outcome()

	if len(c.errs) > 0 {
		return nil
	}

	spec, err := matching.NewSpec(matchers, !c.opts.IgnoreExact)
	if err != nil {
		c.fail("facets", "", ErrInvalidDefinition, "%v", err)
		return nil
	}

	return &Rule{
		ID:         c.def.ID,
		Index:      index,
		Spec:       spec,
		Outcome:    outcome,
		Definition: c.def,
	}
}

func (c *compiler) structErrors() {
	err := validate.Struct(c.def)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.fail("", "", ErrInvalidDefinition, "%v", err)
		return
	}
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		c.fail(field, c.facetOf(field), ErrInvalidDefinition, "%s", describe(fe))
	}
}

// facetOf returns the facet kind for a "facets[i]..." field path.
func (c *compiler) facetOf(field string) string {
	var i int
	if _, err := fmt.Sscanf(field, "facets[%d]", &i); err != nil {
		return ""
	}
	if i < 0 || i >= len(c.def.Facets) {
		return ""
	}
	return c.def.Facets[i].Kind
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min", "max":
		if fe.Field() == "priority" {
			return fmt.Sprintf("must be between 0 and 255, got %v", fe.Value())
		}
		return fmt.Sprintf("must be between 100 and 599, got %v", fe.Value())
	case "url":
		return fmt.Sprintf("must be an absolute URL, got %q", fmt.Sprint(fe.Value()))
	case "excluded_with":
		return "cannot be combined with body"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func (c *compiler) constraint(i int, f FacetDefinition) matching.Matcher {
	field := fmt.Sprintf("facets[%d]", i)

	kind, err := matching.ParseFacetKind(f.Kind)
	if err != nil {
		// Reported by struct validation.
		return nil
	}
	mode, err := matching.ParseMode(f.Mode)
	if err != nil {
		return nil
	}
	if !c.opts.Facets.Has(kind) {
		c.fail(field, f.Kind, ErrFacetDisabled, "facet %q is not enabled (enabled: %s)", f.Kind, c.opts.Facets)
		return nil
	}
	if !c.opts.Strategies.Allows(mode) {
		c.fail(field, f.Kind, ErrStrategyDisabled, "strategy %q is not enabled (enabled: %s)",
			f.Mode, strings.Join(c.opts.Strategies.Names(), ","))
		return nil
	}
	if f.Absent && kind != matching.FacetHeader {
		c.fail(field+".absent", f.Kind, ErrInvalidDefinition, "absent only applies to the header facet")
		return nil
	}

	c.headerName(field+".name", f.Kind, f.Name)
	exp := matching.Expected{Value: f.Value, Name: f.Name, Absent: f.Absent}
	for j, h := range f.Headers {
		c.headerName(fmt.Sprintf("%s.headers[%d].name", field, j), f.Kind, h.Name)
		exp.Headers = append(exp.Headers, matching.HeaderPair{Name: h.Name, Value: h.Value})
	}
	m, err := matching.NewMatcher(kind, mode, exp, c.opts.RegexTimeout)
	if err != nil {
		c.fail(field, f.Kind, ErrInvalidDefinition, "%v", err)
		return nil
	}
	return m
}

func (c *compiler) outcome() Outcome {
	o := c.def.Outcome
	out := Outcome{Type: o.Type}

	switch o.Type {
	case OutcomeSynthetic:
		if o.Upstream != "" || len(o.ProxyHeaders) > 0 {
			c.fail("outcome", "", ErrInvalidOutcome, "upstream and proxy_headers only apply to passthrough outcomes")
		}
		out.Response = c.response(o)
	case OutcomePassthrough:
		if o.Status != 0 || o.Body != "" || o.BodyFile != "" || len(o.Headers) > 0 || o.Template {
			c.fail("outcome", "", ErrInvalidOutcome, "passthrough outcomes do not take a response")
		}
		if o.Upstream != "" {
			u, err := parseUpstream(o.Upstream)
			if err != nil {
				c.fail("outcome.upstream", "", ErrInvalidOutcome, "%v", err)
			}
			out.Upstream = u
		}
		c.headerFields("outcome.proxy_headers", o.ProxyHeaders)
		out.ProxyHeaders = toHeaders(o.ProxyHeaders)
	}
	return out
}

func (c *compiler) response(o OutcomeDefinition) *routing.Response {
	c.headerFields("outcome.headers", o.Headers)
	resp := &routing.Response{
		Status:  o.Status,
		Headers: toHeaders(o.Headers),
		Body:    []byte(o.Body),
	}

	if o.BodyFile != "" {
		path := o.BodyFile
		if !filepath.IsAbs(path) && c.opts.BaseDir != "" {
			path = filepath.Join(c.opts.BaseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.fail("outcome.body_file", "", ErrBodyFile, "%v", err)
			return resp
		}
		resp.Body = data
	}

	if o.Template {
		tmpl, err := template.Compile(c.def.ID, string(resp.Body))
		if err != nil {
			c.fail("outcome.body", "", ErrInvalidOutcome, "%v", err)
			return resp
		}
		resp.Template = tmpl
	}
	return resp
}

// headerName rejects names that are not valid header tokens. Empty names
// are reported by the matcher constructors.
func (c *compiler) headerName(field, facet, name string) {
	name = strings.TrimSpace(name)
	if name != "" && !httpguts.ValidHeaderFieldName(name) {
		c.fail(field, facet, ErrInvalidDefinition, "invalid header name %q", name)
	}
}

func (c *compiler) headerFields(field string, defs []HeaderDefinition) {
	for i, h := range defs {
		name := strings.TrimSpace(h.Name)
		if name != "" && !httpguts.ValidHeaderFieldName(name) {
			c.fail(fmt.Sprintf("%s[%d].name", field, i), "", ErrInvalidOutcome, "invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			c.fail(fmt.Sprintf("%s[%d].value", field, i), "", ErrInvalidOutcome, "invalid value for header %q", name)
		}
	}
}

func toHeaders(defs []HeaderDefinition) []routing.Header {
	if len(defs) == 0 {
		return nil
	}
	out := make([]routing.Header, len(defs))
	for i, h := range defs {
		out[i] = routing.Header{Name: strings.TrimSpace(h.Name), Value: h.Value}
	}
	return out
}
