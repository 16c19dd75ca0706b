package matching

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HeaderPair is a header name and value (or pattern source).
type HeaderPair struct {
	Name  string
	Value string
}

// Expected is the configured side of a constraint.
type Expected struct {
	// Value is the literal (exact) or expression (pattern) for the method, url
	// and header facets.
	Value string
	// Name is the header name for the header facet.
	Name string
	// Absent requires the named header to be missing (header facet only).
	Absent bool
	// Headers lists the pairs for the headers facet.
	Headers []HeaderPair
}

// Matcher is a single constraint on one request facet.
type Matcher interface {
	// Facet returns the constrained facet.
	Facet() FacetKind
	// Mode returns the strategy used by this matcher.
	Mode() Mode
	// HeaderNames returns the header names this matcher reads, canonicalized.
	HeaderNames() []string
	// Match evaluates the constraint. A non-nil error means the evaluation
	// was aborted (pattern timeout) and counts as a non-match.
	Match(f *Facets) (bool, error)
	// String describes the constraint for logs and explain traces.
	String() string
}

// Errors returned by NewMatcher.
var (
	ErrMissingHeaderName = errors.New("header constraint requires a name")
	ErrMissingHeaders    = errors.New("headers constraint requires at least one pair")
	ErrMissingValue      = errors.New("constraint requires a value")
)

// NewMatcher builds the matcher for a facet and strategy. Patterns are
// compiled here so invalid expressions fail at load time.
func NewMatcher(kind FacetKind, mode Mode, exp Expected, timeout time.Duration) (Matcher, error) {
	switch mode {
	case ModeExact:
		return newExact(kind, exp)
	case ModePattern:
		return newPattern(kind, exp, timeout)
	default:
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}
}

func newExact(kind FacetKind, exp Expected) (Matcher, error) {
	switch kind {
	case FacetMethod:
		if strings.TrimSpace(exp.Value) == "" {
			return nil, ErrMissingValue
		}
		return &exactMethod{want: NormalizeMethod(exp.Value)}, nil
	case FacetURL:
		if strings.TrimSpace(exp.Value) == "" {
			return nil, ErrMissingValue
		}
		want, err := NormalizeURL(exp.Value)
		if err != nil {
			return nil, err
		}
		return &exactURL{want: want}, nil
	case FacetHeader:
		if strings.TrimSpace(exp.Name) == "" {
			return nil, ErrMissingHeaderName
		}
		return &exactHeader{
			name:   http.CanonicalHeaderKey(strings.TrimSpace(exp.Name)),
			want:   NormalizeHeaderValue(exp.Value),
			absent: exp.Absent,
		}, nil
	case FacetHeaders:
		if len(exp.Headers) == 0 {
			return nil, ErrMissingHeaders
		}
		pairs := make([]HeaderPair, len(exp.Headers))
		for i, p := range exp.Headers {
			if strings.TrimSpace(p.Name) == "" {
				return nil, ErrMissingHeaderName
			}
			pairs[i] = HeaderPair{
				Name:  http.CanonicalHeaderKey(strings.TrimSpace(p.Name)),
				Value: NormalizeHeaderValue(p.Value),
			}
		}
		return &exactHeaders{pairs: pairs}, nil
	default:
		return nil, fmt.Errorf("unknown facet kind %q", kind)
	}
}

func newPattern(kind FacetKind, exp Expected, timeout time.Duration) (Matcher, error) {
	switch kind {
	case FacetMethod, FacetURL:
		if exp.Value == "" {
			return nil, ErrMissingValue
		}
		p, err := CompilePattern(exp.Value, timeout)
		if err != nil {
			return nil, err
		}
		return &patternValue{kind: kind, re: p}, nil
	case FacetHeader:
		if strings.TrimSpace(exp.Name) == "" {
			return nil, ErrMissingHeaderName
		}
		m := &patternHeader{
			name:   http.CanonicalHeaderKey(strings.TrimSpace(exp.Name)),
			absent: exp.Absent,
		}
		if !exp.Absent {
			if exp.Value == "" {
				return nil, ErrMissingValue
			}
			p, err := CompilePattern(exp.Value, timeout)
			if err != nil {
				return nil, err
			}
			m.re = p
		}
		return m, nil
	case FacetHeaders:
		if len(exp.Headers) == 0 {
			return nil, ErrMissingHeaders
		}
		m := &patternHeaders{}
		for _, pair := range exp.Headers {
			if strings.TrimSpace(pair.Name) == "" {
				return nil, ErrMissingHeaderName
			}
			p, err := CompilePattern(pair.Value, timeout)
			if err != nil {
				return nil, err
			}
			m.names = append(m.names, http.CanonicalHeaderKey(strings.TrimSpace(pair.Name)))
			m.res = append(m.res, p)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown facet kind %q", kind)
	}
}

// exactMethod compares the uppercased method.
type exactMethod struct{ want string }

func (m *exactMethod) Facet() FacetKind      { return FacetMethod }
func (m *exactMethod) Mode() Mode            { return ModeExact }
func (m *exactMethod) HeaderNames() []string { return nil }
func (m *exactMethod) String() string        { return "method == " + m.want }

func (m *exactMethod) Match(f *Facets) (bool, error) {
	return f.Method() == m.want, nil
}

// exactURL compares the normalized target, and the origin when the
// configured URL names a host.
type exactURL struct{ want NormalizedURL }

func (m *exactURL) Facet() FacetKind      { return FacetURL }
func (m *exactURL) Mode() Mode            { return ModeExact }
func (m *exactURL) HeaderNames() []string { return nil }
func (m *exactURL) String() string        { return "url == " + m.want.String() }

func (m *exactURL) Match(f *Facets) (bool, error) {
	got := f.URL()
	if m.want.Origin != "" && got.Origin != m.want.Origin {
		return false, nil
	}
	return got.Target == m.want.Target, nil
}

// exactHeader compares the first value of a single header, or requires
// the header to be absent.
type exactHeader struct {
	name   string
	want   string
	absent bool
}

func (m *exactHeader) Facet() FacetKind      { return FacetHeader }
func (m *exactHeader) Mode() Mode            { return ModeExact }
func (m *exactHeader) HeaderNames() []string { return []string{m.name} }

func (m *exactHeader) String() string {
	if m.absent {
		return "header " + m.name + " absent"
	}
	return "header " + m.name + " == " + m.want
}

func (m *exactHeader) Match(f *Facets) (bool, error) {
	got, ok := f.Header(m.name)
	if m.absent {
		return !ok, nil
	}
	return ok && got == m.want, nil
}

// exactHeaders is a subset match: every listed pair must be carried by the
// request, extra request headers are ignored.
type exactHeaders struct{ pairs []HeaderPair }

func (m *exactHeaders) Facet() FacetKind { return FacetHeaders }
func (m *exactHeaders) Mode() Mode       { return ModeExact }

func (m *exactHeaders) HeaderNames() []string {
	names := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		names[i] = p.Name
	}
	return names
}

func (m *exactHeaders) String() string {
	parts := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		parts[i] = p.Name + "=" + p.Value
	}
	return "headers include {" + strings.Join(parts, ", ") + "}"
}

func (m *exactHeaders) Match(f *Facets) (bool, error) {
	for _, p := range m.pairs {
		if !containsValue(f.HeaderValues(p.Name), p.Value) {
			return false, nil
		}
	}
	return true, nil
}

// patternValue matches the method token or the url target (path?query).
type patternValue struct {
	kind FacetKind
	re   *Pattern
}

func (m *patternValue) Facet() FacetKind      { return m.kind }
func (m *patternValue) Mode() Mode            { return ModePattern }
func (m *patternValue) HeaderNames() []string { return nil }
func (m *patternValue) String() string        { return string(m.kind) + " ~ " + m.re.String() }

func (m *patternValue) Match(f *Facets) (bool, error) {
	if m.kind == FacetMethod {
		return m.re.MatchString(f.Method())
	}
	return m.re.MatchString(f.URL().Target)
}

// patternHeader matches the first value of a header.
type patternHeader struct {
	name   string
	re     *Pattern
	absent bool
}

func (m *patternHeader) Facet() FacetKind      { return FacetHeader }
func (m *patternHeader) Mode() Mode            { return ModePattern }
func (m *patternHeader) HeaderNames() []string { return []string{m.name} }

func (m *patternHeader) String() string {
	if m.absent {
		return "header " + m.name + " absent"
	}
	return "header " + m.name + " ~ " + m.re.String()
}

func (m *patternHeader) Match(f *Facets) (bool, error) {
	got, ok := f.Header(m.name)
	if m.absent {
		return !ok, nil
	}
	if !ok {
		return false, nil
	}
	return m.re.MatchString(got)
}

// patternHeaders requires, for every listed name, at least one request value
// matching its pattern.
type patternHeaders struct {
	names []string
	res   []*Pattern
}

func (m *patternHeaders) Facet() FacetKind      { return FacetHeaders }
func (m *patternHeaders) Mode() Mode            { return ModePattern }
func (m *patternHeaders) HeaderNames() []string { return append([]string(nil), m.names...) }

func (m *patternHeaders) String() string {
	parts := make([]string, len(m.names))
	for i, n := range m.names {
		parts[i] = n + "~" + m.res[i].String()
	}
	return "headers ~ {" + strings.Join(parts, ", ") + "}"
}

func (m *patternHeaders) Match(f *Facets) (bool, error) {
	for i, name := range m.names {
		found := false
		for _, v := range f.HeaderValues(name) {
			ok, err := m.res[i].MatchString(v)
			if err != nil {
				return false, err
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// containsValue checks if the slice contains the exact value.
func containsValue(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
