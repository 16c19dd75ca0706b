package matching

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprinter derives cache keys from the facets a rule table reads.
// Requests that agree on every read facet get the same key.
type Fingerprinter struct {
	prefix  string
	facets  FacetSet
	headers []string
}

// NewFingerprinter returns a fingerprinter whose keys start with scope.
// headers lists the header names to include; they are canonicalized and
// sorted.
func NewFingerprinter(scope string, facets FacetSet, headers []string) *Fingerprinter {
	names := make([]string, 0, len(headers))
	seen := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		h = http.CanonicalHeaderKey(h)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		names = append(names, h)
	}
	sort.Strings(names)
	return &Fingerprinter{
		prefix:  scope + ":",
		facets:  facets,
		headers: names,
	}
}

// Facets returns the facet kinds the fingerprint covers.
func (fp *Fingerprinter) Facets() FacetSet { return fp.facets }

// HeaderNames returns the canonical header names covered, sorted.
func (fp *Fingerprinter) HeaderNames() []string { return fp.headers }

// Fingerprint hashes the covered facets of f.
func (fp *Fingerprinter) Fingerprint(f *Facets) string {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	if fp.facets.Has(FacetMethod) {
		write(f.Method())
	}
	if fp.facets.Has(FacetURL) {
		u := f.URL()
		write(u.Origin)
		write(u.Target)
	}
	for _, name := range fp.headers {
		values := f.HeaderValues(name)
		write(name)
		write(strconv.Itoa(len(values)))
		for _, v := range values {
			write(v)
		}
	}
	return fp.prefix + strconv.FormatUint(d.Sum64(), 16)
}
