// Package template renders synthetic response bodies.
//
// Bodies are Go text/template sources with the Sprig function library and a
// few helpers. Templates are compiled once when a rule table is built and
// executed per request against a Context built from the inbound request.
//
// # Request Data
//
//   - {{.Request.Method}} - HTTP method
//   - {{.Request.Path}} - Request path
//   - {{.Request.URL}} - Full request URL
//   - {{.Request.RawBody}} - Raw request body
//   - {{.Request.Body}} - Parsed JSON body (when Content-Type is JSON)
//   - {{index .Request.Query "param"}} - Query parameter values
//   - {{header .Request "X-Name"}} - First value of a request header
//   - {{.RuleID}} - Id of the rule that produced the response
//
// # Helpers
//
// In addition to Sprig:
//   - {{uuid}} - Random UUID v4
//   - {{timestamp}} - Current Unix timestamp
//   - {{json .Request.Body}} - JSON encoding of a value
//   - {{first (index .Request.Query "q")}} - First element of a string list
package template
