package rule

import (
	"net/http"
	"net/url"

	"github.com/getmockd/mockproxy/internal/matching"
	"github.com/getmockd/mockproxy/pkg/routing"
)

// Rule is a compiled virtualization rule.
type Rule struct {
	// ID is the stable unique identifier.
	ID string
	// Index is the declaration position in the table.
	Index int
	// Spec holds the compiled constraints.
	Spec *matching.Spec
	// Outcome is what the rule produces when it wins.
	Outcome Outcome
	// Definition is the normalized source definition.
	Definition Definition
}

// Specificity returns the rule's match-precision score.
func (r *Rule) Specificity() int {
	return r.Spec.Specificity()
}

// Priority returns the configured priority. Lower values win.
func (r *Rule) Priority() int {
	return r.Definition.Priority
}

// Outranks reports whether r beats o when both match: lower priority first,
// then higher specificity. Equal rules do not outrank each other, so the
// earlier declaration is kept.
func (r *Rule) Outranks(o *Rule) bool {
	if r.Priority() != o.Priority() {
		return r.Priority() < o.Priority()
	}
	return r.Specificity() > o.Specificity()
}

// Outcome is a compiled rule outcome.
type Outcome struct {
	// Type is OutcomeSynthetic or OutcomePassthrough.
	Type string
	// Response is set for synthetic outcomes.
	Response *routing.Response
	// Upstream optionally redirects passthrough traffic.
	Upstream *url.URL
	// ProxyHeaders are added to forwarded requests.
	ProxyHeaders []routing.Header
}

// Passthrough reports whether the outcome forwards the request.
func (o Outcome) Passthrough() bool {
	return o.Type == OutcomePassthrough
}

// Decide builds the routing decision for req.
func (r *Rule) Decide(req *http.Request) routing.Decision {
	if r.Outcome.Passthrough() {
		return routing.Proxy{
			RuleID:   r.ID,
			Request:  req,
			Upstream: r.Outcome.Upstream,
			Headers:  r.Outcome.ProxyHeaders,
		}
	}
	return routing.Virtualize{RuleID: r.ID, Response: r.Outcome.Response}
}
