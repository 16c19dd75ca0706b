package rule

import (
	"time"

	"github.com/getmockd/mockproxy/internal/matching"
)

// Options controls how definitions are compiled.
//
// The zero value enables every facet and strategy, prefers exact constraints
// on ties, and uses the default regex timeout.
type Options struct {
	// Facets is the set of facets rules may constrain. Zero means all.
	Facets matching.FacetSet
	// Strategies is the set of enabled strategies. Zero means all.
	Strategies matching.StrategySet
	// RegexTimeout bounds each pattern evaluation.
	RegexTimeout time.Duration
	// IgnoreExact drops the exact-constraint bonus from specificity, so rules
	// with equal constraint counts are ordered by declaration only.
	IgnoreExact bool
	// BaseDir resolves relative body_file paths.
	BaseDir string
}

func (o Options) withDefaults() Options {
	if o.Facets == 0 {
		o.Facets = matching.AllFacets()
	}
	if !o.Strategies.Exact && !o.Strategies.Pattern {
		o.Strategies = matching.AllStrategies()
	}
	if o.RegexTimeout <= 0 {
		o.RegexTimeout = matching.DefaultRegexTimeout
	}
	return o
}
