// Package metrics exports proxy activity as Prometheus metrics.
//
// A Metrics value owns its registry and implements engine.Observer, so the
// resolver reports decisions, cache lookups, pattern timeouts and table
// publishes directly. Middleware adds per-request HTTP metrics and Handler
// serves the exposition endpoint.
//
// Exported series (namespace mockproxy):
//
//   - decisions_total{decision, matched}
//   - resolve_duration_seconds
//   - cache_lookups_total{result}
//   - cache_entries
//   - pattern_timeouts_total{rule}
//   - table_rules, table_epoch
//   - reloads_total{result}
//   - http_requests_total{method, status}
//   - http_request_duration_seconds{method}
package metrics
