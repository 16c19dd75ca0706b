package rule

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/getmockd/mockproxy/internal/matching"
)

// epochs numbers tables in construction order across the process.
var epochs atomic.Uint64

// Table is an immutable, ordered set of compiled rules.
type Table struct {
	rules   []*Rule
	byID    map[string]*Rule
	epoch   uint64
	version string
	facets  matching.FacetSet
	headers []string
	fp      *matching.Fingerprinter
	opts    Options
}

// NewTable validates and compiles defs. On any problem it returns
// ValidationErrors describing every offending rule and no table.
func NewTable(defs []Definition, opts Options) (*Table, error) {
	opts = opts.withDefaults()

	t := &Table{
		rules: make([]*Rule, 0, len(defs)),
		byID:  make(map[string]*Rule, len(defs)),
		opts:  opts,
	}

	var errs ValidationErrors
	normalized := make([]Definition, len(defs))
	seen := make(map[string]int, len(defs))
	headerSet := make(map[string]struct{})

	for i, raw := range defs {
		def := raw.normalize()
		normalized[i] = def

		name := def.ID
		if name == "" {
			name = "#" + strconv.Itoa(i)
		}
		if first, dup := seen[def.ID]; dup && def.ID != "" {
			errs = append(errs, &ValidationError{
				RuleID:  name,
				Field:   "id",
				Message: fmt.Sprintf("already declared by rule #%d", first),
				Err:     ErrDuplicateID,
			})
			continue
		}
		seen[def.ID] = i

		c := &compiler{def: def, name: name, opts: opts}
		r := c.compile(len(t.rules))
		if r == nil {
			errs = append(errs, c.errs...)
			continue
		}

		t.rules = append(t.rules, r)
		t.byID[r.ID] = r
		t.facets = t.facets.Union(r.Spec.Facets())
		for _, h := range r.Spec.HeaderNames() {
			if _, ok := headerSet[h]; !ok {
				headerSet[h] = struct{}{}
				t.headers = append(t.headers, h)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	t.version = digest(normalized, opts)
	t.epoch = epochs.Add(1)
	t.fp = matching.NewFingerprinter(t.Scope(), t.facets, t.headers)
	t.headers = t.fp.HeaderNames()
	return t, nil
}

// Empty returns a table with no rules. Every request resolves to Proxy.
func Empty() *Table {
	t, _ := NewTable(nil, Options{})
	return t
}

// Rules returns the rules in declaration order. The slice must not be modified.
func (t *Table) Rules() []*Rule { return t.rules }

// Rule looks up a rule by id.
func (t *Table) Rule(id string) (*Rule, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }

// Epoch returns the table's process-unique construction number. Later tables
// have larger epochs.
func (t *Table) Epoch() uint64 { return t.epoch }

// Version returns a digest of the definitions and the matching options the
// table was built from. Tables with equal versions resolve alike.
func (t *Table) Version() string { return t.version }

// Scope identifies the table in cache keys: the version followed by the
// epoch. Epochs are only unique within a process, so tables of two proxies
// sharing a cache differ by version unless they hold the same rules.
func (t *Table) Scope() string {
	return t.version + "." + strconv.FormatUint(t.epoch, 10)
}

// Facets returns the facets referenced by any rule.
func (t *Table) Facets() matching.FacetSet { return t.facets }

// HeaderNames returns the canonical header names referenced by any rule, sorted.
func (t *Table) HeaderNames() []string { return t.headers }

// Options returns the options the table was compiled with, defaults applied.
func (t *Table) Options() Options { return t.opts }

// Extract derives the facets this table reads from r.
func (t *Table) Extract(r *http.Request) *matching.Facets {
	return matching.Extract(r, t.facets)
}

// Key returns the cache key for previously extracted facets.
func (t *Table) Key(f *matching.Facets) string {
	return t.fp.Fingerprint(f)
}

// Fingerprint returns the cache key for r. The key starts with Scope.
func (t *Table) Fingerprint(r *http.Request) string {
	return t.Key(t.Extract(r))
}

func digest(defs []Definition, opts Options) string {
	data, err := json.Marshal(struct {
		Rules       []Definition         `json:"rules"`
		Facets      matching.FacetSet    `json:"facets"`
		Strategies  matching.StrategySet `json:"strategies"`
		IgnoreExact bool                 `json:"ignore_exact"`
	}{defs, opts.Facets, opts.Strategies, opts.IgnoreExact})
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream %q has no host", raw)
	}
	return u, nil
}
