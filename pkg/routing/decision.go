// Package routing defines the routing decision produced for each request.
//
// A Decision is exactly one of Virtualize (serve a synthetic response) or
// Proxy (forward the request upstream). Consumers handle both with a type
// switch; no other implementations exist outside this package.
package routing

import (
	"net/http"
	"net/url"

	"github.com/getmockd/mockproxy/pkg/template"
)

// Kind names a decision variant.
type Kind string

// Decision kinds.
const (
	KindVirtualize Kind = "virtualize"
	KindProxy      Kind = "proxy"
)

// Decision is the routing result for one request.
type Decision interface {
	// Kind returns the variant.
	Kind() Kind
	// Rule returns the id of the deciding rule, or "" when no rule matched.
	Rule() string

	decision()
}

// Header is an ordered header name/value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is a synthetic response. When Template is set, the body is
// rendered per request and Body is ignored.
type Response struct {
	Status   int
	Headers  []Header
	Body     []byte
	Template *template.Template
}

// Virtualize serves Response directly to the client.
type Virtualize struct {
	RuleID   string
	Response *Response
}

// Kind implements Decision.
func (Virtualize) Kind() Kind { return KindVirtualize }

// Rule implements Decision.
func (v Virtualize) Rule() string { return v.RuleID }

func (Virtualize) decision() {}

// Proxy forwards Request to the upstream. Upstream and Headers carry the
// deciding passthrough rule's overrides and are empty otherwise.
type Proxy struct {
	RuleID   string
	Request  *http.Request
	Upstream *url.URL
	Headers  []Header
}

// Kind implements Decision.
func (Proxy) Kind() Kind { return KindProxy }

// Rule implements Decision.
func (p Proxy) Rule() string { return p.RuleID }

func (Proxy) decision() {}

// Matched reports whether a rule produced the decision.
func Matched(d Decision) bool {
	return d.Rule() != ""
}
