package matching

import (
	"net/http"
	"strings"
)

// Facets holds the normalized values extracted from a single request.
// It is a read-only view: extraction never modifies the request.
type Facets struct {
	method string
	url    NormalizedURL
	header http.Header
	set    FacetSet
}

// Extract derives the facets in set from r. Facets outside the set are left
// empty; matchers only read facets their rule table requested.
func Extract(r *http.Request, set FacetSet) *Facets {
	f := &Facets{set: set, header: r.Header}
	if set.Has(FacetMethod) {
		f.method = NormalizeMethod(r.Method)
	}
	if set.Has(FacetURL) {
		f.url = requestURL(r)
	}
	return f
}

// Method returns the uppercased method token.
func (f *Facets) Method() string { return f.method }

// URL returns the normalized request URL.
func (f *Facets) URL() NormalizedURL { return f.url }

// Header returns the first value of the named header, trimmed. The second
// result is false when the header is absent.
func (f *Facets) Header(name string) (string, bool) {
	values := f.header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return NormalizeHeaderValue(values[0]), true
}

// HeaderValues returns every value of the named header, trimmed.
func (f *Facets) HeaderValues(name string) []string {
	values := f.header.Values(name)
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = NormalizeHeaderValue(v)
	}
	return out
}

// NormalizeMethod uppercases a method token.
func NormalizeMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}

// NormalizeHeaderValue trims surrounding whitespace from a header value.
func NormalizeHeaderValue(v string) string {
	return strings.TrimSpace(v)
}

func requestURL(r *http.Request) NormalizedURL {
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	n := NormalizedURL{Target: normalizeTarget(r.URL)}
	if host != "" {
		n.Origin = normalizeOrigin(scheme, host)
	}
	return n
}
