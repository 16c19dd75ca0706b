// Package matching provides the request matching primitives for the virtualization engine.
//
// It extracts normalized facets from an HTTP request and evaluates constraints
// against them using one of two strategies:
//
//   - Exact: equality after normalization (method uppercased, URL normalized,
//     header values trimmed). The headers facet is a subset match.
//   - Pattern: a regular expression that may match anywhere in the extracted
//     value. Patterns are compiled once and every match is time-bounded.
//
// Matchable facets:
//
//   - method: the request method token
//   - url: the request URL (path and query, plus origin when the constraint names a host)
//   - header: a single header value by name, or its absence
//   - headers: a list of header name/value pairs
//
// A Spec is the conjunction of a rule's constraints. Its specificity is
// derived from the number of constraints, with exact constraints breaking ties
// between equal counts. Score constants are defined in scores.go.
//
// Key types:
//
//   - Facets: the normalized values extracted from one request
//   - Matcher: a single (facet, strategy, expected value) constraint
//   - Spec: all constraints of one rule
//   - Fingerprinter: derives cache keys from the facets a rule table references
package matching
