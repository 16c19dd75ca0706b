package admin

import (
	"github.com/getmockd/mockproxy/pkg/cache"
	"github.com/getmockd/mockproxy/pkg/proxy"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail describes one rule validation problem.
type ErrorDetail struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Facet   string `json:"facet,omitempty"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /__admin/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  int64  `json:"uptime"`
	Rules   int    `json:"rules"`
	Epoch   uint64 `json:"epoch"`
}

// TableResponse summarizes the active table.
type TableResponse struct {
	Epoch   uint64         `json:"epoch"`
	Version string         `json:"version"`
	Facets  string         `json:"facets"`
	Headers []string       `json:"headers,omitempty"`
	Rules   []RuleResponse `json:"rules"`
}

// RuleResponse is one compiled rule.
type RuleResponse struct {
	ID          string          `json:"id"`
	Index       int             `json:"index"`
	Priority    int             `json:"priority"`
	Specificity int             `json:"specificity"`
	Constraints []string        `json:"constraints"`
	Definition  rule.Definition `json:"definition"`
}

// ReloadResponse is returned by a successful reload.
type ReloadResponse struct {
	Epoch   uint64 `json:"epoch"`
	Version string `json:"version"`
	Rules   int    `json:"rules"`
}

// CacheResponse is returned by GET /__admin/cache.
type CacheResponse struct {
	Cache    cache.Stats          `json:"cache"`
	Breakers []proxy.BreakerState `json:"breakers,omitempty"`
}

// ExplainRequest describes a request to explain. URL is a path with an
// optional query, or an absolute URL whose host is used as the request host.
type ExplainRequest struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Host    string              `json:"host,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}
