// Package engine resolves requests against the active rule table and serves
// the resulting routing decisions.
//
// The Resolver is the decision core. It holds the current rule.Table behind an
// atomic pointer, so resolutions never lock and always see one consistent
// table. Publish swaps in a new table and clears the result cache; Reload
// builds a table from a TableSource and keeps the previous table when the
// source fails.
//
// Resolution order:
//
//  1. fingerprint the facets the table reads
//  2. serve a cached entry for the same table epoch, rebuilt from the table
//  3. otherwise evaluate every rule in declaration order
//  4. pick the highest specificity, ties going to the earliest rule
//  5. cache the winner and return Virtualize or Proxy
//
// Handler turns decisions into HTTP responses: synthetic responses are written
// directly and Proxy decisions are handed to a Forwarder. Server runs the
// listener with optional TLS and middleware.
package engine
